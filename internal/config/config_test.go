package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasker.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test")

	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: ${TEST_ANTHROPIC_KEY}
      default_model: claude-sonnet-4-20250514
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "sk-ant-test" {
		t.Errorf("APIKey = %q, want the expanded env value", cfg.LLM.Providers["anthropic"].APIKey)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: /tmp/custom.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Path != "/tmp/custom.db" {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.Server.HTTPPort != 8080 || cfg.Server.MetricsPort != 9090 {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Agent.MaxIterations != 8 || cfg.Agent.SingleStepTimeout != 90*time.Second {
		t.Errorf("agent defaults = %+v", cfg.Agent)
	}
	if cfg.Failover.CircuitBreakerThreshold != 3 {
		t.Errorf("failover defaults = %+v", cfg.Failover)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
agent:
  single_step_timeout: 2m
  tool_timeout: 45s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.SingleStepTimeout != 2*time.Minute {
		t.Errorf("SingleStepTimeout = %v", cfg.Agent.SingleStepTimeout)
	}
	if cfg.Agent.ToolTimeout != 45*time.Second {
		t.Errorf("ToolTimeout = %v", cfg.Agent.ToolTimeout)
	}
}

func TestLoadRejectsUnknownProviderReference(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: gemini
  providers:
    anthropic:
      api_key: k
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "default_provider") {
		t.Errorf("err = %v, want a default_provider validation error", err)
	}
}

func TestLoadRejectsUnknownPlannerProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  planner_provider: openai
  providers:
    anthropic:
      api_key: k
`)

	if _, err := Load(path); err == nil {
		t.Error("expected a planner_provider validation error")
	}
}

func TestLoadRejectsInvalidLogging(t *testing.T) {
	for _, body := range []string{
		"logging:\n  level: loud\n",
		"logging:\n  format: xml\n",
	} {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("config %q should fail validation", body)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config must validate: %v", err)
	}
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Errorf("DefaultProvider = %q", cfg.LLM.DefaultProvider)
	}
}

func TestJSONSchemaStable(t *testing.T) {
	first, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("schema must not be empty")
	}
	second, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	if string(first) != string(second) {
		t.Error("schema generation must be deterministic")
	}
}
