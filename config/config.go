package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full configuration tree. Values resolve in order: defaults,
// then the YAML file, then environment variables.
type Config struct {
	Redis    RedisConfig    `yaml:"redis" env:"REDIS"`
	Registry RegistryConfig `yaml:"registry" env:"REGISTRY"`
	Memory   MemoryConfig   `yaml:"memory" env:"MEMORY"`
	Agent    AgentConfig    `yaml:"agent" env:"AGENT"`
	Workflow WorkflowConfig `yaml:"workflow" env:"WORKFLOW"`
	LLM      LLMConfig      `yaml:"llm" env:"LLM"`
	Log      LogConfig      `yaml:"log" env:"LOG"`
	Metrics  MetricsConfig  `yaml:"metrics" env:"METRICS"`
}

// RedisConfig configures the shared state store backend. With Enabled false
// the in-memory backend is used instead.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
}

// RegistryConfig configures service invocation and health tracking.
type RegistryConfig struct {
	InvokeTimeout    time.Duration `yaml:"invoke_timeout" env:"INVOKE_TIMEOUT"`
	HealthInterval   time.Duration `yaml:"health_interval" env:"HEALTH_INTERVAL"`
	HealthTimeout    time.Duration `yaml:"health_timeout" env:"HEALTH_TIMEOUT"`
	FailureThreshold int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	Cooldown         time.Duration `yaml:"cooldown" env:"COOLDOWN"`
}

// MemoryConfig configures each agent's memory subsystem.
type MemoryConfig struct {
	ShortTermCapacity       int     `yaml:"short_term_capacity" env:"SHORT_TERM_CAPACITY"`
	PromotionThreshold      float64 `yaml:"promotion_threshold" env:"PROMOTION_THRESHOLD"`
	ConsolidationSimilarity float64 `yaml:"consolidation_similarity" env:"CONSOLIDATION_SIMILARITY"`
	ConsolidationMinCluster int     `yaml:"consolidation_min_cluster" env:"CONSOLIDATION_MIN_CLUSTER"`
}

// AgentConfig configures agent lifecycle defaults.
type AgentConfig struct {
	MemoryFetchLimit  int     `yaml:"memory_fetch_limit" env:"MEMORY_FETCH_LIMIT"`
	InitialConfidence float64 `yaml:"initial_confidence" env:"INITIAL_CONFIDENCE"`
	RecentActionLimit int     `yaml:"recent_action_limit" env:"RECENT_ACTION_LIMIT"`
}

// WorkflowConfig configures the workflow engine.
type WorkflowConfig struct {
	HistoryLimit    int    `yaml:"history_limit" env:"HISTORY_LIMIT"`
	ReporterService string `yaml:"reporter_service" env:"REPORTER_SERVICE"`
}

// LLMConfig configures the language-model collaborator endpoint.
type LLMConfig struct {
	BaseURL        string        `yaml:"base_url" env:"BASE_URL"`
	APIKey         string        `yaml:"api_key" env:"API_KEY"`
	Model          string        `yaml:"model" env:"MODEL"`
	EmbeddingModel string        `yaml:"embedding_model" env:"EMBEDDING_MODEL"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Addr      string `yaml:"addr" env:"ADDR"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Validate checks cross-field constraints the type system cannot express.
func (c *Config) Validate() error {
	var errs []string

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when redis is enabled")
	}
	if c.Registry.InvokeTimeout <= 0 {
		errs = append(errs, "registry.invoke_timeout must be positive")
	}
	if c.Registry.FailureThreshold <= 0 {
		errs = append(errs, "registry.failure_threshold must be positive")
	}
	if c.Memory.ShortTermCapacity <= 0 {
		errs = append(errs, "memory.short_term_capacity must be positive")
	}
	if c.Memory.PromotionThreshold < 0 || c.Memory.PromotionThreshold > 1 {
		errs = append(errs, "memory.promotion_threshold must be in [0, 1]")
	}
	if c.Agent.InitialConfidence < 0 || c.Agent.InitialConfidence > 1 {
		errs = append(errs, "agent.initial_confidence must be in [0, 1]")
	}
	if c.Workflow.HistoryLimit <= 0 {
		errs = append(errs, "workflow.history_limit must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
