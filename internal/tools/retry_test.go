package tools

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/aviv90/tasker-server-sub013/internal/agent"
	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// flakyTool fails the first invocation and succeeds afterwards.
type flakyTool struct {
	mu    sync.Mutex
	calls int
}

func (t *flakyTool) Name() string            { return "paint" }
func (t *flakyTool) Description() string     { return "paints things" }
func (t *flakyTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (t *flakyTool) Execute(ctx context.Context, args json.RawMessage, state *models.ContextState) (*models.ToolResult, error) {
	t.mu.Lock()
	t.calls++
	first := t.calls == 1
	t.mu.Unlock()

	if first {
		return &models.ToolResult{Content: "provider overloaded", IsError: true}, nil
	}
	state.RecordAsset(models.AssetImage, "https://img.example/retry.png")
	return &models.ToolResult{
		Content: "painted",
		Payload: json.RawMessage(`{"image_url":"https://img.example/retry.png"}`),
	}, nil
}

func newRetryFixture(t *testing.T) (*agent.Registry, *flakyTool) {
	t.Helper()
	registry := agent.NewRegistry()
	flaky := &flakyTool{}
	if err := registry.Register(flaky); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(NewRetryTool(registry, nil)); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(NewRecallAssetTool()); err != nil {
		t.Fatal(err)
	}
	return registry, flaky
}

func TestRetryRecordsFreshAuditEntry(t *testing.T) {
	registry, _ := newRetryFixture(t)
	executor := agent.NewExecutor(registry, nil, nil)
	ctx := context.Background()

	state := models.NewContextState("c")
	args := json.RawMessage(`{"subject":"cat"}`)

	// First round: the capability fails.
	executor.ExecuteRound(ctx, []models.ToolCall{{ID: "1", Name: "paint", Input: args}}, state)
	if len(state.ToolCalls) != 1 || state.ToolCalls[0].Success {
		t.Fatalf("audit after failure = %+v", state.ToolCalls)
	}

	// Second round: the retry tool re-invokes it.
	results := executor.ExecuteRound(ctx, []models.ToolCall{{ID: "2", Name: RetryToolName, Input: json.RawMessage(`{}`)}}, state)
	if results[0].IsError {
		t.Fatalf("retry result = %+v", results[0])
	}

	// The audit now shows the failed attempt, the re-invocation, and the
	// retry tool's own record, in that order.
	var paintRecords []models.ToolCallRecord
	for _, rec := range state.ToolCalls {
		if rec.Tool == "paint" {
			paintRecords = append(paintRecords, rec)
		}
	}
	if len(paintRecords) != 2 {
		t.Fatalf("paint audit entries = %d, want 2 (failed then retried)", len(paintRecords))
	}
	if paintRecords[0].Success || !paintRecords[1].Success {
		t.Errorf("paint records = %+v, want failed then successful", paintRecords)
	}

	if state.GeneratedAssets[models.AssetImage] != "https://img.example/retry.png" {
		t.Error("retried tool's asset must land in shared state")
	}
	if string(state.PreviousToolResults["paint"]) != `{"image_url":"https://img.example/retry.png"}` {
		t.Errorf("paint result = %s, want the retry's payload", state.PreviousToolResults["paint"])
	}
}

func TestRetryWithNothingToRetry(t *testing.T) {
	registry, _ := newRetryFixture(t)
	retry, _ := registry.Get(RetryToolName)

	result, err := retry.Execute(context.Background(), json.RawMessage(`{}`), models.NewContextState("c"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("retry with a clean audit trail must report an error result")
	}
}

func TestRetryIgnoresItsOwnFailures(t *testing.T) {
	registry, _ := newRetryFixture(t)
	retry, _ := registry.Get(RetryToolName)

	state := models.NewContextState("c")
	state.ToolCalls = []models.ToolCallRecord{
		{Tool: RetryToolName, Success: false},
		{Tool: RecallAssetToolName, Success: false},
	}

	result, err := retry.Execute(context.Background(), nil, state)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("informational tool failures are not retry targets")
	}
}

func TestRetryAlternateBackendOverride(t *testing.T) {
	registry := agent.NewRegistry()
	var seenOverride string
	probe := &probeTool{onExecute: func(state *models.ContextState) {
		seenOverride = state.BackendOverride
	}}
	if err := registry.Register(probe); err != nil {
		t.Fatal(err)
	}
	retry := NewRetryTool(registry, nil)

	state := models.NewContextState("c")
	state.ToolCalls = []models.ToolCallRecord{{Tool: "probe", Success: false}}

	_, err := retry.Execute(context.Background(), json.RawMessage(`{"use_alternate_backend": true, "alternate_backend": "gemini"}`), state)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if seenOverride != "gemini" {
		t.Errorf("override seen by retried tool = %q, want %q", seenOverride, "gemini")
	}
	if state.BackendOverride != "" {
		t.Error("override must be cleared after the retry")
	}
}

// probeTool records the state it was executed with.
type probeTool struct {
	onExecute func(state *models.ContextState)
}

func (t *probeTool) Name() string            { return "probe" }
func (t *probeTool) Description() string     { return "probe" }
func (t *probeTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (t *probeTool) Execute(ctx context.Context, args json.RawMessage, state *models.ContextState) (*models.ToolResult, error) {
	if t.onExecute != nil {
		t.onExecute(state)
	}
	return &models.ToolResult{Content: "ok"}, nil
}

func TestRecallAsset(t *testing.T) {
	recall := NewRecallAssetTool()

	state := models.NewContextState("c")
	state.RecordAsset(models.AssetImage, "https://img.example/cat.png")

	result, err := recall.Execute(context.Background(), json.RawMessage(`{"kind":"image"}`), state)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}
	if string(result.Payload) != `{"image_url":"https://img.example/cat.png"}` {
		t.Errorf("Payload = %s", result.Payload)
	}

	result, err = recall.Execute(context.Background(), json.RawMessage(`{"kind":"video"}`), state)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("missing asset kind must report an error result")
	}
}

func TestToolSchemasCompile(t *testing.T) {
	registry := agent.NewRegistry()
	if err := registry.Register(NewRecallAssetTool()); err != nil {
		t.Errorf("recall schema rejected: %v", err)
	}
	if err := registry.Register(NewRetryTool(registry, nil)); err != nil {
		t.Errorf("retry schema rejected: %v", err)
	}
}
