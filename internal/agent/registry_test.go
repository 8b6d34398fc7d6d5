package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

func TestRegistryValidatesArguments(t *testing.T) {
	weather := &fakeTool{
		name:   "weather",
		schema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
	}
	registry := newTestRegistry(t, weather)

	state := models.NewContextState("c")

	result, err := registry.Invoke(context.Background(), "weather", json.RawMessage(`{"city": 42}`), state)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !result.IsError {
		t.Error("mistyped arguments must produce an error result")
	}

	result, err = registry.Invoke(context.Background(), "weather", json.RawMessage(`{"city":"haifa"}`), state)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.IsError {
		t.Errorf("valid arguments rejected: %s", result.Content)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	registry := NewRegistry()
	result, err := registry.Invoke(context.Background(), "ghost", nil, models.NewContextState("c"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "ghost") {
		t.Errorf("result = %+v, want not-found error naming the tool", result)
	}
}

func TestRegistryRejectsInvalidSchema(t *testing.T) {
	bad := &fakeTool{name: "bad", schema: json.RawMessage(`{"type": 12}`)}
	if err := NewRegistry().Register(bad); err == nil {
		t.Error("expected registration to fail on an invalid schema")
	}
}

func TestRegistryRejectsOversizedArgs(t *testing.T) {
	echo := &fakeTool{name: "echo"}
	registry := newTestRegistry(t, echo)

	huge := json.RawMessage(`{"blob":"` + strings.Repeat("x", MaxToolArgsSize) + `"}`)
	result, err := registry.Invoke(context.Background(), "echo", huge, models.NewContextState("c"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !result.IsError {
		t.Error("oversized arguments must be rejected")
	}
}

func TestRegistryDeclarations(t *testing.T) {
	registry := newTestRegistry(t, &fakeTool{name: "a"}, &fakeTool{name: "b"})
	decls := registry.Declarations()
	if len(decls) != 2 {
		t.Fatalf("declarations = %d, want 2", len(decls))
	}
	for _, d := range decls {
		if d.Name == "" || len(d.Schema) == 0 {
			t.Errorf("incomplete declaration: %+v", d)
		}
	}
}
