package config

import "time"

// DefaultConfig returns the documented defaults for every section.
func DefaultConfig() *Config {
	return &Config{
		Redis:    DefaultRedisConfig(),
		Registry: DefaultRegistryConfig(),
		Memory:   DefaultMemoryConfig(),
		Agent:    DefaultAgentConfig(),
		Workflow: DefaultWorkflowConfig(),
		LLM:      DefaultLLMConfig(),
		Log:      DefaultLogConfig(),
		Metrics:  DefaultMetricsConfig(),
	}
}

// DefaultRedisConfig returns the in-memory-backend default.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:   false,
		Addr:      "localhost:6379",
		DB:        0,
		KeyPrefix: "quantfleet:",
		PoolSize:  10,
	}
}

// DefaultRegistryConfig returns the default invocation and health tunables.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		InvokeTimeout:    30 * time.Second,
		HealthInterval:   30 * time.Second,
		HealthTimeout:    5 * time.Second,
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

// DefaultMemoryConfig returns the default memory tiering tunables.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		ShortTermCapacity:       50,
		PromotionThreshold:      0.7,
		ConsolidationSimilarity: 0.8,
		ConsolidationMinCluster: 3,
	}
}

// DefaultAgentConfig returns the default agent lifecycle tunables.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MemoryFetchLimit:  10,
		InitialConfidence: 0.5,
		RecentActionLimit: 10,
	}
}

// DefaultWorkflowConfig returns the default engine tunables.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		HistoryLimit:    100,
		ReporterService: "reporting",
	}
}

// DefaultLLMConfig returns an OpenAI-compatible endpoint with the key read
// from the environment.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL:        "https://api.openai.com",
		Model:          "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Timeout:        30 * time.Second,
	}
}

// DefaultLogConfig returns JSON logging at info level.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig returns a disabled metrics endpoint.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Addr:      ":9091",
		Namespace: "quantfleet",
	}
}
