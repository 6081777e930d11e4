// Command quantfleet runs the coordination core as a service: shared state
// store, service registry with health loop, workflow engine, and an optional
// Prometheus endpoint.
//
// Usage:
//
//	quantfleet serve                        # start with defaults
//	quantfleet serve --config quantfleet.yaml
//	quantfleet version
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantfleet/quantfleet"
	"github.com/quantfleet/quantfleet/agent"
	"github.com/quantfleet/quantfleet/config"
	"github.com/quantfleet/quantfleet/llm"
	"github.com/quantfleet/quantfleet/registry"
	"github.com/quantfleet/quantfleet/types"
	"github.com/quantfleet/quantfleet/workflow"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting quantfleet",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	apiKey := cfg.LLM.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	provider, err := llm.NewOpenAICompat(llm.OpenAICompatConfig{
		APIKey:         apiKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Timeout:        cfg.LLM.Timeout,
	}, logger)
	if err != nil {
		logger.Fatal("llm provider setup failed", zap.Error(err))
	}

	invoker := registry.NewHTTPInvoker(cfg.Registry.InvokeTimeout)
	core, err := quantfleet.New(cfg, provider, invoker, logger)
	if err != nil {
		logger.Fatal("core setup failed", zap.Error(err))
	}
	defer core.Close()

	spawnFleet(core, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := core.Registry.StartHealthLoop(ctx); err != nil {
		logger.Fatal("health loop start failed", zap.Error(err))
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", zap.String("addr", cfg.Metrics.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	logger.Info("quantfleet running")
	<-ctx.Done()
	logger.Info("shutdown signal received")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	core.Registry.StopHealthLoop()
	logger.Info("quantfleet stopped")
}

// spawnFleet creates the default trading agents used by the built-in
// workflow definitions. Each executes its actions through the registered
// execution service.
func spawnFleet(core *quantfleet.Core, logger *zap.Logger) {
	executor := agent.ExecutorFunc(func(ctx context.Context, action *types.Action) (string, error) {
		result, err := core.Registry.Invoke(ctx, workflow.ServiceExecution, action.Kind, action.Parameters)
		if err != nil {
			return "", err
		}
		outcome, _ := result["outcome"].(string)
		return outcome, nil
	})

	for _, id := range []string{workflow.AgentAnalyst, workflow.AgentRisk, workflow.AgentTrader} {
		if _, err := core.SpawnAgent(agent.Config{ID: id, Name: id}, executor); err != nil {
			logger.Fatal("agent setup failed", zap.String("agent_id", id), zap.Error(err))
		}
	}
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func printVersion() {
	fmt.Printf("quantfleet %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`quantfleet - multi-agent trading coordination core

Usage:
  quantfleet serve [--config path]   Start the coordination core
  quantfleet version                 Show version information
  quantfleet help                    Show this help`)
}
