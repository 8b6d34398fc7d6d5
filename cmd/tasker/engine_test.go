package main

import (
	"testing"

	"github.com/aviv90/tasker-server-sub013/internal/config"
)

func twoProviderConfig() *config.Config {
	cfg := config.Default()
	cfg.LLM.DefaultProvider = "anthropic"
	cfg.LLM.Providers = map[string]config.LLMProviderConfig{
		"anthropic": {APIKey: "key-a"},
		"openai":    {APIKey: "key-b"},
	}
	return cfg
}

func TestNewProviderBackend(t *testing.T) {
	cfg := twoProviderConfig()

	backend, err := newProviderBackend(cfg, "openai")
	if err != nil {
		t.Fatalf("newProviderBackend: %v", err)
	}
	if backend.Name() != "openai" {
		t.Errorf("Name = %q", backend.Name())
	}

	if _, err := newProviderBackend(cfg, "gemini"); err == nil {
		t.Error("expected an error for an unconfigured provider")
	}
}

func TestBuildDecisionBackendPrimaryFirst(t *testing.T) {
	backend, err := buildDecisionBackend(twoProviderConfig(), nil, nil)
	if err != nil {
		t.Fatalf("buildDecisionBackend: %v", err)
	}
	if backend.Name() != "anthropic" {
		t.Errorf("primary = %q, want the default provider", backend.Name())
	}
}

func TestPlannerBackendUsesNamedProvider(t *testing.T) {
	cfg := twoProviderConfig()
	cfg.LLM.PlannerProvider = "openai"

	main, err := buildDecisionBackend(cfg, nil, nil)
	if err != nil {
		t.Fatalf("buildDecisionBackend: %v", err)
	}

	classifier, err := plannerBackend(cfg, main)
	if err != nil {
		t.Fatalf("plannerBackend: %v", err)
	}
	if classifier.Name() != "openai" {
		t.Errorf("planner backend = %q, want the configured planner provider", classifier.Name())
	}
}

func TestPlannerBackendDefaultsToMain(t *testing.T) {
	cfg := twoProviderConfig()

	main, err := buildDecisionBackend(cfg, nil, nil)
	if err != nil {
		t.Fatalf("buildDecisionBackend: %v", err)
	}

	for _, name := range []string{"", "anthropic"} {
		cfg.LLM.PlannerProvider = name
		classifier, err := plannerBackend(cfg, main)
		if err != nil {
			t.Fatalf("plannerBackend(%q): %v", name, err)
		}
		if classifier != main {
			t.Errorf("planner_provider %q must reuse the main failover backend", name)
		}
	}
}
