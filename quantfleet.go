// Package quantfleet provides a top-level entry point that wires the
// coordination core together with minimal boilerplate: shared state store,
// service registry, agent fleet and workflow engine, built from one Config.
//
// Usage:
//
//	cfg := config.DefaultConfig()
//	core, err := quantfleet.New(cfg, provider, invoker, logger)
//	defer core.Close()
//
//	core.Registry.Register(&types.ServiceDescriptor{ID: "market-data", Endpoint: "http://..."})
//	agent, err := core.SpawnAgent(agent.Config{ID: "analyst"}, executor)
//	wf, err := core.Engine.Execute(ctx, types.WorkflowRoutineCycle, nil)
package quantfleet

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantfleet/quantfleet/agent"
	"github.com/quantfleet/quantfleet/config"
	"github.com/quantfleet/quantfleet/internal/metrics"
	"github.com/quantfleet/quantfleet/llm"
	"github.com/quantfleet/quantfleet/memory"
	"github.com/quantfleet/quantfleet/registry"
	"github.com/quantfleet/quantfleet/state"
	"github.com/quantfleet/quantfleet/types"
	"github.com/quantfleet/quantfleet/workflow"
)

// Core bundles the wired coordination components.
type Core struct {
	Store    state.Store
	Registry *registry.Registry
	Engine   *workflow.Engine

	config    *config.Config
	provider  llm.Provider
	collector *metrics.Collector
	logger    *zap.Logger
}

// New wires a Core from cfg. The Redis store backend is used when enabled,
// the in-memory backend otherwise. The health loop is not started; call
// Registry.StartHealthLoop once services are registered.
func New(cfg *config.Config, provider llm.Provider, invoker registry.Invoker, logger *zap.Logger) (*Core, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, types.NewError(types.ErrValidation, "quantfleet: llm provider is required")
	}
	if invoker == nil {
		return nil, types.NewError(types.ErrValidation, "quantfleet: service invoker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, nil, logger)
	}

	var store state.Store
	if cfg.Redis.Enabled {
		redisStore, err := state.NewRedisStore(state.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			PoolSize:  cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			return nil, err
		}
		store = redisStore
	} else {
		store = state.NewMemoryStore(logger)
	}

	reg := registry.New(registry.Config{
		InvokeTimeout:  cfg.Registry.InvokeTimeout,
		HealthInterval: cfg.Registry.HealthInterval,
		HealthTimeout:  cfg.Registry.HealthTimeout,
		Breaker: registry.BreakerConfig{
			FailureThreshold: cfg.Registry.FailureThreshold,
			Cooldown:         cfg.Registry.Cooldown,
		},
	}, invoker, store, collector, logger)

	engine, err := workflow.New(workflow.Config{
		HistoryLimit:    cfg.Workflow.HistoryLimit,
		ReporterService: cfg.Workflow.ReporterService,
	}, reg, store, collector, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Core{
		Store:     store,
		Registry:  reg,
		Engine:    engine,
		config:    cfg,
		provider:  provider,
		collector: collector,
		logger:    logger,
	}, nil
}

// SpawnAgent creates an agent with its own memory subsystem, registers it
// with the workflow engine, and returns it.
func (c *Core) SpawnAgent(agentCfg agent.Config, executor agent.Executor, strategies ...agent.Strategy) (*agent.Agent, error) {
	if agentCfg.ID == "" {
		agentCfg.ID = uuid.NewString()
	}
	if agentCfg.MemoryFetchLimit == 0 {
		agentCfg.MemoryFetchLimit = c.config.Agent.MemoryFetchLimit
	}
	if agentCfg.InitialConfidence == 0 {
		agentCfg.InitialConfidence = c.config.Agent.InitialConfidence
	}
	if agentCfg.RecentActionLimit == 0 {
		agentCfg.RecentActionLimit = c.config.Agent.RecentActionLimit
	}

	mem := memory.New(agentCfg.ID, memory.Config{
		ShortTermCapacity:       c.config.Memory.ShortTermCapacity,
		PromotionThreshold:      c.config.Memory.PromotionThreshold,
		ConsolidationSimilarity: c.config.Memory.ConsolidationSimilarity,
		ConsolidationMinCluster: c.config.Memory.ConsolidationMinCluster,
	}, c.provider, c.collector, c.logger)

	a, err := agent.New(agentCfg, c.provider, mem, strategies, executor, c.Store, c.collector, c.logger)
	if err != nil {
		return nil, err
	}
	if err := c.Engine.RegisterAgent(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Close stops the health loop and releases the store.
func (c *Core) Close() error {
	c.Registry.StopHealthLoop()
	return c.Store.Close()
}
