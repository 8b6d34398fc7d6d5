// Package history loads and repairs recent conversation history for the
// agent engine. History is an optimization, not a correctness
// requirement: any load failure degrades to an empty result and never
// fails the parent request.
package history

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aviv90/tasker-server-sub013/internal/agent"
	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// HistoryWindow is the fixed number of recent stored turns fetched per
// request.
const HistoryWindow = 20

// MessageStore reads recent stored turns for a chat.
type MessageStore interface {
	GetRecent(ctx context.Context, chatID string, limit int) ([]models.Message, error)
}

// ackPrefixes are the formulaic "I'm working on it" acknowledgements the
// bot sends while a long operation runs. They carry no conversational
// content and would make the decision backend think it already answered.
var ackPrefixes = []string{
	"working on it",
	"on it",
	"one moment",
	"just a moment",
	"hold on",
	"got it, creating",
	"creating your",
	"generating your",
}

// ackEmojis are the trailing emoji markers the acknowledgements carry.
var ackEmojis = []string{"🤖", "⏳", "🎨", "🎬", "🎵", "✨", "👍"}

// maxAckLength bounds how long a turn can be and still count as a
// formulaic acknowledgement.
const maxAckLength = 80

// Loader implements the history strategy: fetch a fixed window, drop
// acknowledgement noise, and repair the leading turn so non-empty history
// always starts with a user turn.
type Loader struct {
	store  MessageStore
	logger *slog.Logger
}

// NewLoader creates a history loader over the given message store.
func NewLoader(store MessageStore, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, logger: logger}
}

// ProcessHistory loads the recent window for the chat. When useHistory is
// false it returns immediately with an empty result and performs no I/O.
func (l *Loader) ProcessHistory(ctx context.Context, chatID, requestText string, useHistory bool) *agent.HistoryResult {
	if !useHistory {
		return &agent.HistoryResult{ShouldLoadHistory: false}
	}

	result := &agent.HistoryResult{ShouldLoadHistory: true}

	if l.store == nil {
		return result
	}

	messages, err := l.store.GetRecent(ctx, chatID, HistoryWindow)
	if err != nil {
		l.logger.Warn("history load failed, continuing without history",
			"chat_id", chatID,
			"error", err)
		return result
	}

	turns := make([]models.Turn, 0, len(messages))
	for _, msg := range messages {
		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			continue
		}
		turns = append(turns, models.Turn{Speaker: msg.Role, Text: msg.Content})
	}

	turns = FilterAcknowledgements(turns)
	turns, stripped := RepairLeadingTurns(turns)

	result.History = turns
	result.SystemContextAddition = stripped
	return result
}

// IsAcknowledgement reports whether an assistant turn is a short
// formulaic acknowledgement.
func IsAcknowledgement(turn models.Turn) bool {
	if turn.Speaker != models.RoleAssistant {
		return false
	}
	text := strings.TrimSpace(turn.Text)
	if text == "" || len(text) > maxAckLength {
		return false
	}
	lower := strings.ToLower(text)
	for _, prefix := range ackPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	for _, emoji := range ackEmojis {
		if strings.HasSuffix(text, emoji) {
			return true
		}
	}
	return false
}

// FilterAcknowledgements drops acknowledgement turns. Filtering an
// already-filtered list is a no-op.
func FilterAcknowledgements(turns []models.Turn) []models.Turn {
	filtered := make([]models.Turn, 0, len(turns))
	for _, turn := range turns {
		if IsAcknowledgement(turn) {
			continue
		}
		filtered = append(filtered, turn)
	}
	return filtered
}

// RepairLeadingTurns pops assistant turns off the front of the list until
// the first remaining turn is a user turn, accumulating the popped text as
// a bulleted list. The downstream consumer requires history to begin with
// a user turn, but the stripped content must not be lost.
func RepairLeadingTurns(turns []models.Turn) ([]models.Turn, string) {
	var stripped []string
	for len(turns) > 0 && turns[0].Speaker == models.RoleAssistant {
		stripped = append(stripped, "- "+turns[0].Text)
		turns = turns[1:]
	}
	return turns, strings.Join(stripped, "\n")
}
