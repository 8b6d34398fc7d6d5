// Package messages stores the per-chat transcript the history loader
// reads from.
package messages

import (
	"context"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// Store reads and appends stored chat messages.
type Store interface {
	// GetRecent returns up to limit most recent messages for the chat,
	// oldest first.
	GetRecent(ctx context.Context, chatID string, limit int) ([]models.Message, error)

	// Append stores one message at the end of the chat transcript.
	Append(ctx context.Context, msg models.Message) error
}
