package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// DefaultNonPersistable lists tools whose calls never become retry
// records: side-effect-free lookups that replaying would accomplish
// nothing.
func DefaultNonPersistable() map[string]struct{} {
	return map[string]struct{}{
		"retry_last":   {},
		"recall_asset": {},
	}
}

// Saver decides which part of a finished run is worth a retry record and
// writes it. Implements the engine's command-saver contract.
type Saver struct {
	store          Store
	nonPersistable map[string]struct{}
	logger         *slog.Logger
}

// NewSaver creates a saver over the given store. A nil nonPersistable set
// uses DefaultNonPersistable.
func NewSaver(store Store, nonPersistable map[string]struct{}, logger *slog.Logger) *Saver {
	if nonPersistable == nil {
		nonPersistable = DefaultNonPersistable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Saver{store: store, nonPersistable: nonPersistable, logger: logger}
}

// SaveLastCommand persists the retry record for a finished run. Without a
// message identifier there is nothing to key the record on, so it is a
// no-op. Failed runs are saved too: "try again" after a visible failure
// must retry the thing that failed.
func (s *Saver) SaveLastCommand(ctx context.Context, result *models.AgentResult, chatID, messageID, originalText, normalizedInput string) error {
	if s.store == nil || result == nil || messageID == "" {
		return nil
	}

	cmd := s.buildRecord(result, chatID, messageID, originalText, normalizedInput)
	if cmd == nil {
		return nil
	}
	return s.store.Put(ctx, cmd)
}

func (s *Saver) buildRecord(result *models.AgentResult, chatID, messageID, originalText, normalizedInput string) *models.SavedCommand {
	cmd := &models.SavedCommand{
		ChatID:          chatID,
		MessageID:       messageID,
		Prompt:          originalText,
		NormalizedInput: normalizedInput,
		Failed:          !result.Success,
		ImageURL:        result.ImageURL,
		VideoURL:        result.VideoURL,
		AudioURL:        result.AudioURL,
		SavedAt:         time.Now().UTC(),
	}

	if result.MultiStep {
		// A structurally invalid plan is never persisted; replaying it
		// would replay garbage.
		if result.Plan == nil || len(result.Plan.Steps) == 0 {
			s.logger.Debug("skipping command save for invalid multi-step plan",
				"chat_id", chatID)
			return nil
		}
		cmd.MultiStep = true
		cmd.Plan = result.Plan
		cmd.StepsCompleted = result.StepsCompleted
		cmd.TotalSteps = result.TotalSteps
		return cmd
	}

	// Most recent retry-eligible call wins, regardless of its success.
	for i := len(result.ToolCalls) - 1; i >= 0; i-- {
		call := result.ToolCalls[i]
		if _, skip := s.nonPersistable[call.Tool]; skip {
			continue
		}
		cmd.Tool = call.Tool
		cmd.Args = call.Args
		cmd.Failed = !call.Success
		if result.ToolResults != nil {
			cmd.Result = result.ToolResults[call.Tool]
		}
		return cmd
	}

	// No retry-eligible tool call: nothing worth replaying.
	return nil
}
