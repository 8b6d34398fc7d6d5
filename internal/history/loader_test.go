package history

import (
	"context"
	"errors"
	"testing"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// fakeMessageStore returns a fixed message list or error.
type fakeMessageStore struct {
	messages []models.Message
	err      error
	calls    int
}

func (s *fakeMessageStore) GetRecent(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.messages, nil
}

func TestProcessHistorySuppressed(t *testing.T) {
	store := &fakeMessageStore{}
	loader := NewLoader(store, nil)

	result := loader.ProcessHistory(context.Background(), "c", "hi", false)
	if result.ShouldLoadHistory {
		t.Error("ShouldLoadHistory must be false when suppressed")
	}
	if store.calls != 0 {
		t.Error("suppressed history must not touch the store")
	}
}

func TestProcessHistoryStoreFailureDegrades(t *testing.T) {
	loader := NewLoader(&fakeMessageStore{err: errors.New("db down")}, nil)

	result := loader.ProcessHistory(context.Background(), "c", "hi", true)
	if !result.ShouldLoadHistory {
		t.Error("ShouldLoadHistory should remain true")
	}
	if len(result.History) != 0 || result.SystemContextAddition != "" {
		t.Errorf("expected empty result, got %+v", result)
	}
}

func TestProcessHistoryRepairsLeadingAssistantTurns(t *testing.T) {
	store := &fakeMessageStore{messages: []models.Message{
		{Role: models.RoleAssistant, Content: "here is your image"},
		{Role: models.RoleAssistant, Content: "anything else?"},
		{Role: models.RoleUser, Content: "yes, tell me a joke"},
		{Role: models.RoleAssistant, Content: "why did the gopher cross the road"},
	}}
	loader := NewLoader(store, nil)

	result := loader.ProcessHistory(context.Background(), "c", "go on", true)

	if len(result.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(result.History))
	}
	if result.History[0].Speaker != models.RoleUser {
		t.Error("repaired history must start with a user turn")
	}
	want := "- here is your image\n- anything else?"
	if result.SystemContextAddition != want {
		t.Errorf("SystemContextAddition = %q, want %q", result.SystemContextAddition, want)
	}
}

func TestProcessHistoryDropsAcknowledgements(t *testing.T) {
	store := &fakeMessageStore{messages: []models.Message{
		{Role: models.RoleUser, Content: "draw me a cat"},
		{Role: models.RoleAssistant, Content: "Working on it... 🎨"},
		{Role: models.RoleUser, Content: "thanks"},
		{Role: models.RoleSystem, Content: "internal marker"},
		{Role: models.RoleAssistant, Content: "Here is a detailed answer about cats and their many habits."},
	}}
	loader := NewLoader(store, nil)

	result := loader.ProcessHistory(context.Background(), "c", "go on", true)

	if len(result.History) != 3 {
		t.Fatalf("history = %+v, want 3 turns", result.History)
	}
	for _, turn := range result.History {
		if turn.Text == "Working on it... 🎨" {
			t.Error("acknowledgement survived filtering")
		}
		if turn.Speaker == models.RoleSystem {
			t.Error("system messages must not enter history")
		}
	}
}

func TestIsAcknowledgement(t *testing.T) {
	tests := []struct {
		turn models.Turn
		want bool
	}{
		{models.Turn{Speaker: models.RoleAssistant, Text: "Working on it"}, true},
		{models.Turn{Speaker: models.RoleAssistant, Text: "One moment please"}, true},
		{models.Turn{Speaker: models.RoleAssistant, Text: "Creating your image now 🎨"}, true},
		{models.Turn{Speaker: models.RoleAssistant, Text: "Done! ✨"}, true},
		{models.Turn{Speaker: models.RoleUser, Text: "working on it"}, false},
		{models.Turn{Speaker: models.RoleAssistant, Text: "The capital of France is Paris."}, false},
		{models.Turn{Speaker: models.RoleAssistant, Text: ""}, false},
	}

	for _, tt := range tests {
		if got := IsAcknowledgement(tt.turn); got != tt.want {
			t.Errorf("IsAcknowledgement(%q) = %v, want %v", tt.turn.Text, got, tt.want)
		}
	}
}

func TestFilterAcknowledgementsIdempotent(t *testing.T) {
	turns := []models.Turn{
		{Speaker: models.RoleUser, Text: "hello"},
		{Speaker: models.RoleAssistant, Text: "On it ⏳"},
		{Speaker: models.RoleAssistant, Text: "A real answer with substance."},
	}

	once := FilterAcknowledgements(turns)
	twice := FilterAcknowledgements(once)

	if len(once) != 2 || len(twice) != 2 {
		t.Fatalf("len(once)=%d len(twice)=%d, want 2 and 2", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Error("filtering must be idempotent")
		}
	}
}

func TestRepairLeadingTurnsEmptyAndAllAssistant(t *testing.T) {
	turns, stripped := RepairLeadingTurns(nil)
	if len(turns) != 0 || stripped != "" {
		t.Error("empty input must stay empty")
	}

	turns, stripped = RepairLeadingTurns([]models.Turn{
		{Speaker: models.RoleAssistant, Text: "a"},
		{Speaker: models.RoleAssistant, Text: "b"},
	})
	if len(turns) != 0 {
		t.Errorf("all-assistant history should empty out, got %+v", turns)
	}
	if stripped != "- a\n- b" {
		t.Errorf("stripped = %q", stripped)
	}
}
