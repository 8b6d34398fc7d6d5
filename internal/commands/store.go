// Package commands persists the last retryable action per chat so an
// explicit "retry" request can replay it.
package commands

import (
	"context"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// Store persists retry records keyed by (chatID, messageID). A new request
// for the same key overwrites the previous record.
type Store interface {
	Put(ctx context.Context, cmd *models.SavedCommand) error

	// GetLatest returns the most recently saved record for the chat, or
	// nil when none exists.
	GetLatest(ctx context.Context, chatID string) (*models.SavedCommand, error)
}
