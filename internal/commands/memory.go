package commands

import (
	"context"
	"sync"
	"time"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// MemoryStore is an in-memory retry-record store for tests and
// single-process deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	chats map[string]map[string]*models.SavedCommand
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chats: make(map[string]map[string]*models.SavedCommand)}
}

// Put upserts the record under its (chat id, message id) key.
func (s *MemoryStore) Put(ctx context.Context, cmd *models.SavedCommand) error {
	clone := *cmd
	if clone.SavedAt.IsZero() {
		clone.SavedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byMessage := s.chats[cmd.ChatID]
	if byMessage == nil {
		byMessage = make(map[string]*models.SavedCommand)
		s.chats[cmd.ChatID] = byMessage
	}
	byMessage[cmd.MessageID] = &clone
	return nil
}

// GetLatest returns the most recently saved record for the chat.
func (s *MemoryStore) GetLatest(ctx context.Context, chatID string) (*models.SavedCommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.SavedCommand
	for _, cmd := range s.chats[chatID] {
		if latest == nil || cmd.SavedAt.After(latest.SavedAt) {
			latest = cmd
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}
