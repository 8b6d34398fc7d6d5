// Package config loads the engine configuration from YAML with
// environment-variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	LLM      LLMConfig      `yaml:"llm"`
	Agent    AgentConfig    `yaml:"agent"`
	Failover FailoverConfig `yaml:"failover"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type StorageConfig struct {
	// Path is the SQLite database file holding context snapshots, the
	// chat transcript, preferences, and retry records.
	Path string `yaml:"path"`
}

type LLMConfig struct {
	// DefaultProvider names the primary decision backend.
	DefaultProvider string `yaml:"default_provider"`

	// PlannerProvider names the backend used for plan classification;
	// empty reuses the default provider.
	PlannerProvider string `yaml:"planner_provider"`

	// PlannerModel overrides the model used for plan classification.
	PlannerModel string `yaml:"planner_model"`

	Providers map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

type AgentConfig struct {
	// MaxIterations bounds single-step decision rounds.
	MaxIterations int `yaml:"max_iterations"`

	// MaxTokens is the per-round response budget.
	MaxTokens int `yaml:"max_tokens"`

	// SingleStepTimeout is the wall-clock budget for a single-step run.
	SingleStepTimeout time.Duration `yaml:"single_step_timeout"`

	// ToolTimeout is the per-tool execution budget.
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// ToolConcurrency caps concurrent tool executions within one round.
	ToolConcurrency int `yaml:"tool_concurrency"`

	// NonPersistableTools lists tools excluded from retry records.
	NonPersistableTools []string `yaml:"non_persistable_tools"`
}

type FailoverConfig struct {
	MaxRetries              int           `yaml:"max_retries"`
	RetryBackoff            time.Duration `yaml:"retry_backoff"`
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `yaml:"circuit_breaker_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no
// providers configured.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "tasker.db"
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 8
	}
	if cfg.Agent.MaxTokens == 0 {
		cfg.Agent.MaxTokens = 4096
	}
	if cfg.Agent.SingleStepTimeout == 0 {
		cfg.Agent.SingleStepTimeout = 90 * time.Second
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 60 * time.Second
	}
	if cfg.Agent.ToolConcurrency == 0 {
		cfg.Agent.ToolConcurrency = 4
	}
	if cfg.Failover.MaxRetries == 0 {
		cfg.Failover.MaxRetries = 2
	}
	if cfg.Failover.RetryBackoff == 0 {
		cfg.Failover.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.Failover.CircuitBreakerThreshold == 0 {
		cfg.Failover.CircuitBreakerThreshold = 3
	}
	if cfg.Failover.CircuitBreakerTimeout == 0 {
		cfg.Failover.CircuitBreakerTimeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.LLM.DefaultProvider != "" && len(c.LLM.Providers) > 0 {
		if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
			return fmt.Errorf("default_provider %q has no provider entry", c.LLM.DefaultProvider)
		}
	}
	if c.LLM.PlannerProvider != "" {
		if _, ok := c.LLM.Providers[c.LLM.PlannerProvider]; !ok {
			return fmt.Errorf("planner_provider %q has no provider entry", c.LLM.PlannerProvider)
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}
	return nil
}
