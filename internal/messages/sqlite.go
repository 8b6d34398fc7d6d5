package messages

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aviv90/tasker-server-sub013/pkg/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const messageSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	chat_id    TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_created
	ON messages (chat_id, created_at);
`

// SQLiteStore persists the chat transcript in a local SQLite database.
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
	if _, err := db.Exec(messageSchema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetRecent returns up to limit most recent messages, oldest first.
func (s *SQLiteStore) GetRecent(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		var role string
		if err := rows.Scan(&msg.ID, &msg.ChatID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	// Query is newest-first for the LIMIT; callers want oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Append stores one message. A missing ID or timestamp is filled in.
func (s *SQLiteStore) Append(ctx context.Context, msg models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, string(msg.Role), msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}
