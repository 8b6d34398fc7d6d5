package commands

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

func saveAndGet(t *testing.T, result *models.AgentResult, messageID string) *models.SavedCommand {
	t.Helper()
	store := NewMemoryStore()
	saver := NewSaver(store, nil, nil)

	err := saver.SaveLastCommand(context.Background(), result, "chat-1", messageID, "original text", "original text")
	if err != nil {
		t.Fatalf("SaveLastCommand: %v", err)
	}
	cmd, err := store.GetLatest(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	return cmd
}

func TestSaverRequiresMessageID(t *testing.T) {
	result := &models.AgentResult{
		Success:   true,
		ToolCalls: []models.ToolCallRecord{{Tool: "paint", Success: true}},
	}
	if cmd := saveAndGet(t, result, ""); cmd != nil {
		t.Errorf("saved without message id: %+v", cmd)
	}
}

func TestSaverPersistsMostRecentEligibleCall(t *testing.T) {
	result := &models.AgentResult{
		Success: true,
		ToolCalls: []models.ToolCallRecord{
			{Tool: "search", Args: json.RawMessage(`{"q":"cats"}`), Success: true},
			{Tool: "paint", Args: json.RawMessage(`{"subject":"cat"}`), Success: true},
			{Tool: "recall_asset", Args: json.RawMessage(`{"kind":"image"}`), Success: true},
		},
		ToolResults: map[string]json.RawMessage{
			"paint": json.RawMessage(`{"image_url":"https://img.example/cat.png"}`),
		},
		ImageURL: "https://img.example/cat.png",
	}

	cmd := saveAndGet(t, result, "msg-1")
	if cmd == nil {
		t.Fatal("expected a saved command")
	}
	if cmd.Tool != "paint" {
		t.Errorf("Tool = %q, want the newest persistable call", cmd.Tool)
	}
	if cmd.Failed {
		t.Error("successful call must not be marked failed")
	}
	if string(cmd.Result) != `{"image_url":"https://img.example/cat.png"}` {
		t.Errorf("Result = %s", cmd.Result)
	}
	if cmd.ImageURL != "https://img.example/cat.png" {
		t.Error("media URLs must be carried on the record")
	}
	if cmd.NormalizedInput != "original text" {
		t.Errorf("NormalizedInput = %q", cmd.NormalizedInput)
	}
}

func TestSaverPersistsFailedCall(t *testing.T) {
	// "Try again" after a visible failure must retry the thing that
	// failed, not an earlier success.
	result := &models.AgentResult{
		Success: false,
		ToolCalls: []models.ToolCallRecord{
			{Tool: "search", Success: true},
			{Tool: "paint", Args: json.RawMessage(`{"subject":"cat"}`), Success: false},
		},
	}

	cmd := saveAndGet(t, result, "msg-1")
	if cmd == nil {
		t.Fatal("expected a saved command")
	}
	if cmd.Tool != "paint" || !cmd.Failed {
		t.Errorf("cmd = %+v, want the failed paint call", cmd)
	}
}

func TestSaverSkipsWhenNoEligibleCall(t *testing.T) {
	result := &models.AgentResult{
		Success: true,
		ToolCalls: []models.ToolCallRecord{
			{Tool: "retry_last", Success: true},
			{Tool: "recall_asset", Success: true},
		},
	}
	if cmd := saveAndGet(t, result, "msg-1"); cmd != nil {
		t.Errorf("non-persistable-only runs must not be saved: %+v", cmd)
	}
}

func TestSaverMultiStep(t *testing.T) {
	plan := &models.Plan{
		MultiStep: true,
		Steps: []models.PlanStep{
			{Tool: "paint"},
			{Tool: "write"},
		},
	}
	result := &models.AgentResult{
		Success:        false,
		MultiStep:      true,
		Plan:           plan,
		StepsCompleted: 1,
		TotalSteps:     2,
	}

	cmd := saveAndGet(t, result, "msg-1")
	if cmd == nil {
		t.Fatal("expected a saved command")
	}
	if !cmd.MultiStep || cmd.Plan == nil || len(cmd.Plan.Steps) != 2 {
		t.Errorf("cmd = %+v, want the whole plan", cmd)
	}
	if cmd.StepsCompleted != 1 || cmd.TotalSteps != 2 {
		t.Errorf("progress = %d/%d", cmd.StepsCompleted, cmd.TotalSteps)
	}
	if !cmd.Failed {
		t.Error("partial plan must be marked failed")
	}
}

func TestSaverRejectsStructurallyInvalidPlan(t *testing.T) {
	result := &models.AgentResult{
		Success:   true,
		MultiStep: true,
		Plan:      &models.Plan{MultiStep: true},
	}
	if cmd := saveAndGet(t, result, "msg-1"); cmd != nil {
		t.Errorf("empty plan must never be persisted: %+v", cmd)
	}
}

func TestSaverOverwritesSameKey(t *testing.T) {
	store := NewMemoryStore()
	saver := NewSaver(store, nil, nil)
	ctx := context.Background()

	first := &models.AgentResult{Success: true, ToolCalls: []models.ToolCallRecord{{Tool: "paint", Success: true}}}
	second := &models.AgentResult{Success: true, ToolCalls: []models.ToolCallRecord{{Tool: "search", Success: true}}}

	if err := saver.SaveLastCommand(ctx, first, "chat-1", "msg-1", "a", "a"); err != nil {
		t.Fatal(err)
	}
	if err := saver.SaveLastCommand(ctx, second, "chat-1", "msg-1", "b", "b"); err != nil {
		t.Fatal(err)
	}

	cmd, err := store.GetLatest(ctx, "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Tool != "search" {
		t.Errorf("Tool = %q, want the overwriting record", cmd.Tool)
	}
}
