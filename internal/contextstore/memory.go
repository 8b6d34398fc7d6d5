package contextstore

import (
	"context"
	"sync"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// MemoryStore is an in-memory Backend and preference reader for tests and
// single-process deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*models.ContextState
	prefs  map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*models.ContextState),
		prefs:  make(map[string]string),
	}
}

// Get returns a deep copy of the stored snapshot, or nil when none exists.
func (s *MemoryStore) Get(ctx context.Context, chatID string) (*models.ContextState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[chatID].Clone(), nil
}

// Put stores a deep copy of the snapshot.
func (s *MemoryStore) Put(ctx context.Context, chatID string, state *models.ContextState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[chatID] = state.Clone()
	return nil
}

// Preferences returns the stored preference text for the chat.
func (s *MemoryStore) Preferences(ctx context.Context, chatID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs[chatID], nil
}

// SetPreferences stores the preference text for the chat.
func (s *MemoryStore) SetPreferences(ctx context.Context, chatID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if content == "" {
		delete(s.prefs, chatID)
		return nil
	}
	s.prefs[chatID] = content
	return nil
}
