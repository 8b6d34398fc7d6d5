package contextstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
	_ "modernc.org/sqlite"
)

const contextSchema = `
CREATE TABLE IF NOT EXISTS agent_context (
	chat_id    TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS preferences (
	chat_id    TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// SQLiteStore persists context snapshots and per-chat preferences in a
// local SQLite database. Implements Backend and the engine's preference
// reader.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; more than one connection just queues.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(contextSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreWithDB wraps an existing connection; the caller owns its
// lifecycle and schema application.
func NewSQLiteStoreWithDB(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if _, err := db.Exec(contextSchema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the persisted snapshot for the chat, or nil when none
// exists.
func (s *SQLiteStore) Get(ctx context.Context, chatID string) (*models.ContextState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM agent_context WHERE chat_id = ?`, chatID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context: %w", err)
	}

	var state models.ContextState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("failed to decode context: %w", err)
	}
	return &state, nil
}

// Put upserts the snapshot for the chat.
func (s *SQLiteStore) Put(ctx context.Context, chatID string, state *models.ContextState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_context (chat_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at`,
		chatID, string(raw), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	return nil
}

// Preferences returns the stored preference text for the chat, or "" when
// none is set.
func (s *SQLiteStore) Preferences(ctx context.Context, chatID string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM preferences WHERE chat_id = ?`, chatID,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load preferences: %w", err)
	}
	return content, nil
}

// SetPreferences upserts the preference text for the chat. Empty content
// deletes the row.
func (s *SQLiteStore) SetPreferences(ctx context.Context, chatID, content string) error {
	if content == "" {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM preferences WHERE chat_id = ?`, chatID)
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (chat_id, content, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at`,
		chatID, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}
