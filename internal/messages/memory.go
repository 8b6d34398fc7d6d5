package messages

import (
	"context"
	"sync"
	"time"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory transcript store for tests and single-process
// deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	chats map[string][]models.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chats: make(map[string][]models.Message)}
}

// GetRecent returns up to limit most recent messages, oldest first.
func (s *MemoryStore) GetRecent(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.chats[chatID]
	if limit <= 0 || len(all) == 0 {
		return nil, nil
	}
	start := len(all) - limit
	if start < 0 {
		start = 0
	}
	out := make([]models.Message, len(all)-start)
	copy(out, all[start:])
	return out, nil
}

// Append stores one message at the end of the chat transcript.
func (s *MemoryStore) Append(ctx context.Context, msg models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[msg.ChatID] = append(s.chats[msg.ChatID], msg)
	return nil
}
