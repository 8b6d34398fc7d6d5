// Package contextstore persists per-chat agent working memory: the
// structured results and generated assets carried between requests, plus
// long-term per-chat preferences.
package contextstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
)

// Backend is the raw key-scoped persistence under the manager.
type Backend interface {
	Get(ctx context.Context, chatID string) (*models.ContextState, error)
	Put(ctx context.Context, chatID string, state *models.ContextState) error
}

// Manager implements the engine's context store contract: merge-on-load,
// best-effort save, and per-chat single-writer persistence.
type Manager struct {
	backend Backend
	logger  *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a context store manager over the given backend.
func NewManager(backend Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend: backend,
		logger:  logger,
		locks:   make(map[string]*chatLock),
	}
}

// lockChat serializes context persistence per chat. Concurrent requests
// for different chats never contend.
func (m *Manager) lockChat(chatID string) func() {
	if chatID == "" {
		return func() {}
	}

	m.locksMu.Lock()
	lock := m.locks[chatID]
	if lock == nil {
		lock = &chatLock{}
		m.locks[chatID] = lock
	}
	lock.refs++
	m.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		m.locksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(m.locks, chatID)
		}
		m.locksMu.Unlock()
	}
}

// Load merges the persisted snapshot for the chat into base. Fields the
// caller already set from the current request win on conflict; persisted
// values only fill gaps. When memoryEnabled is false, base is returned
// unchanged and no I/O is performed. Load failure degrades to base.
func (m *Manager) Load(ctx context.Context, chatID string, base *models.ContextState, memoryEnabled bool) *models.ContextState {
	if base == nil {
		base = models.NewContextState(chatID)
	}
	if !memoryEnabled || m.backend == nil {
		return base
	}

	persisted, err := m.backend.Get(ctx, chatID)
	if err != nil {
		m.logger.Warn("context load failed, starting fresh",
			"chat_id", chatID,
			"error", err)
		return base
	}
	if persisted == nil {
		return base
	}

	return Merge(base, persisted)
}

// Save persists the mutated state under the per-chat lock. No-op when
// memoryEnabled is false. Failure is returned for the caller to log;
// persistence is best-effort memory, not a transactional requirement.
func (m *Manager) Save(ctx context.Context, chatID string, state *models.ContextState, memoryEnabled bool) error {
	if !memoryEnabled || m.backend == nil || state == nil {
		return nil
	}

	unlock := m.lockChat(chatID)
	defer unlock()

	return m.backend.Put(ctx, chatID, state)
}

// Merge folds persisted previous-tool-results and generated assets into
// base without overwriting anything the current request already set.
func Merge(base, persisted *models.ContextState) *models.ContextState {
	if persisted == nil {
		return base
	}

	if base.PreviousToolResults == nil {
		base.PreviousToolResults = make(map[string]json.RawMessage)
	}
	for tool, payload := range persisted.PreviousToolResults {
		if _, set := base.PreviousToolResults[tool]; !set {
			base.PreviousToolResults[tool] = payload
		}
	}

	if base.GeneratedAssets == nil {
		base.GeneratedAssets = make(map[models.AssetKind]string)
	}
	for kind, url := range persisted.GeneratedAssets {
		if _, set := base.GeneratedAssets[kind]; !set {
			base.GeneratedAssets[kind] = url
		}
	}

	return base
}
