package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"github.com/aviv90/tasker-server-sub013/internal/agent"
	"github.com/aviv90/tasker-server-sub013/internal/agent/backends"
	"github.com/aviv90/tasker-server-sub013/internal/commands"
	"github.com/aviv90/tasker-server-sub013/internal/config"
	"github.com/aviv90/tasker-server-sub013/internal/contextstore"
	"github.com/aviv90/tasker-server-sub013/internal/history"
	"github.com/aviv90/tasker-server-sub013/internal/messages"
	"github.com/aviv90/tasker-server-sub013/internal/planner"
	"github.com/aviv90/tasker-server-sub013/internal/tools"
)

// engine bundles the wired orchestrator with the resources it owns.
type engine struct {
	orchestrator *agent.Orchestrator
	msgStore     messages.Store
	db           *sql.DB
}

func (e *engine) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

// setupLogger replaces the default logger per the config.
func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// buildEngine wires the full agent engine from config. The dispatcher
// receives per-step output from multi-step runs.
func buildEngine(cfg *config.Config, logger *slog.Logger, dispatcher agent.Dispatcher) (*engine, error) {
	metrics := agent.NewMetrics(nil)

	backend, err := buildDecisionBackend(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}
	classifierBackend, err := plannerBackend(cfg, backend)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctxBackend, err := contextstore.NewSQLiteStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	msgStore, err := messages.NewSQLiteStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	cmdStore, err := commands.NewSQLiteStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	registry := agent.NewRegistry()
	if err := registry.Register(tools.NewRecallAssetTool()); err != nil {
		db.Close()
		return nil, err
	}
	if err := registry.Register(tools.NewRetryTool(registry, logger)); err != nil {
		db.Close()
		return nil, err
	}

	loopConfig := &agent.LoopConfig{
		MaxIterations: cfg.Agent.MaxIterations,
		MaxTokens:     cfg.Agent.MaxTokens,
		ExecutorConfig: &agent.ExecutorConfig{
			MaxConcurrency: cfg.Agent.ToolConcurrency,
			DefaultTimeout: cfg.Agent.ToolTimeout,
		},
	}
	loop := agent.NewLoop(backend, registry, loopConfig, logger, metrics)
	multi := agent.NewMultiStepExecutor(registry, loop, dispatcher, logger, metrics)

	nonPersistable := commands.DefaultNonPersistable()
	for _, name := range cfg.Agent.NonPersistableTools {
		nonPersistable[name] = struct{}{}
	}

	orchestrator := agent.NewOrchestrator(agent.OrchestratorDeps{
		Planner:     planner.NewClassifier(classifierBackend, cfg.LLM.PlannerModel, logger),
		Loop:        loop,
		MultiStep:   multi,
		History:     history.NewLoader(msgStore, logger),
		Contexts:    contextstore.NewManager(ctxBackend, logger),
		Preferences: ctxBackend,
		Saver:       commands.NewSaver(cmdStore, nonPersistable, logger),
		Logger:      logger,
		Metrics:     metrics,
	}, &agent.OrchestratorConfig{
		SingleStepTimeout: cfg.Agent.SingleStepTimeout,
		LoopConfig:        loopConfig,
	})

	return &engine{
		orchestrator: orchestrator,
		msgStore:     msgStore,
		db:           db,
	}, nil
}

// newProviderBackend creates one named provider backend from config.
func newProviderBackend(cfg *config.Config, name string) (agent.DecisionBackend, error) {
	provider, ok := cfg.LLM.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	switch name {
	case "anthropic":
		return backends.NewAnthropicBackend(backends.AnthropicConfig{
			APIKey:           provider.APIKey,
			BaseURL:          provider.BaseURL,
			DefaultModel:     provider.DefaultModel,
			DefaultMaxTokens: cfg.Agent.MaxTokens,
		})
	case "openai":
		return backends.NewOpenAIBackend(backends.OpenAIConfig{
			APIKey:           provider.APIKey,
			BaseURL:          provider.BaseURL,
			DefaultModel:     provider.DefaultModel,
			DefaultMaxTokens: cfg.Agent.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// plannerBackend returns the backend the plan classifier runs against: the
// dedicated planner provider when one is configured, otherwise the main
// failover backend.
func plannerBackend(cfg *config.Config, main agent.DecisionBackend) (agent.DecisionBackend, error) {
	name := cfg.LLM.PlannerProvider
	if name == "" || name == cfg.LLM.DefaultProvider {
		return main, nil
	}
	return newProviderBackend(cfg, name)
}

// buildDecisionBackend creates the configured providers wrapped in a
// failover backend, with the default provider first.
func buildDecisionBackend(cfg *config.Config, logger *slog.Logger, metrics *agent.Metrics) (agent.DecisionBackend, error) {
	var ordered []agent.DecisionBackend

	if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; ok {
		backend, err := newProviderBackend(cfg, cfg.LLM.DefaultProvider)
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, backend)
	}
	for name := range cfg.LLM.Providers {
		if name == cfg.LLM.DefaultProvider {
			continue
		}
		backend, err := newProviderBackend(cfg, name)
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, backend)
	}

	if len(ordered) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}

	return backends.NewFailover(ordered, &backends.FailoverConfig{
		MaxRetries:              cfg.Failover.MaxRetries,
		RetryBackoff:            cfg.Failover.RetryBackoff,
		MaxRetryBackoff:         backends.DefaultFailoverConfig().MaxRetryBackoff,
		FailoverOnRateLimit:     true,
		FailoverOnServerError:   true,
		CircuitBreakerThreshold: cfg.Failover.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   cfg.Failover.CircuitBreakerTimeout,
	}, logger, metrics)
}
