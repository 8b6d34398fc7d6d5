package commands

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

const commandSchema = `
CREATE TABLE IF NOT EXISTS saved_commands (
	chat_id    TEXT NOT NULL,
	message_id TEXT NOT NULL,
	record     TEXT NOT NULL,
	saved_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (chat_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_saved_commands_chat_saved
	ON saved_commands (chat_id, saved_at);
`

// SQLiteStore persists retry records in a local SQLite database.
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
	db.SetMaxOpenConns(1)

	store, err := NewSQLiteStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStoreWithDB wraps an existing connection; the caller owns its
// lifecycle.
func NewSQLiteStoreWithDB(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if _, err := db.Exec(commandSchema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put upserts the record under its (chat id, message id) key.
func (s *SQLiteStore) Put(ctx context.Context, cmd *models.SavedCommand) error {
	if cmd == nil {
		return fmt.Errorf("command is nil")
	}

	savedAt := cmd.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO saved_commands (chat_id, message_id, record, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (chat_id, message_id) DO UPDATE SET
			record = excluded.record,
			saved_at = excluded.saved_at`,
		cmd.ChatID, cmd.MessageID, string(raw), savedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save command: %w", err)
	}
	return nil
}

// GetLatest returns the most recently saved record for the chat, or nil
// when none exists.
func (s *SQLiteStore) GetLatest(ctx context.Context, chatID string) (*models.SavedCommand, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT record FROM saved_commands
		WHERE chat_id = ?
		ORDER BY saved_at DESC
		LIMIT 1`, chatID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load command: %w", err)
	}

	var cmd models.SavedCommand
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		return nil, fmt.Errorf("failed to decode command: %w", err)
	}
	return &cmd, nil
}
