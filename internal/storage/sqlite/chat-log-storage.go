// Package sqlite keeps the chat log in a local SQLite file for single-node
// deployments without redis or postgres.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/replica-relay/internal/model"

	_ "modernc.org/sqlite"
)

type ChatLogStorage struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*ChatLogStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	storage := &ChatLogStorage{db: db, now: time.Now}
	if err = storage.ensureTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return storage, nil
}

func (c *ChatLogStorage) Close() error {
	return c.db.Close()
}

func (c *ChatLogStorage) ensureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT    NOT NULL,
			role            TEXT    NOT NULL,
			content         TEXT    NOT NULL,
			created_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_conversation ON chat_messages(conversation_id, created_at)`,
	}
	for _, s := range stmts {
		if _, err := c.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("failed to ensure sqlite tables: %w", err)
		}
	}
	return nil
}

func (c *ChatLogStorage) AppendMessage(
	ctx context.Context,
	conversationID uuid.UUID,
	role model.Role,
	content string,
) error {
	query := `INSERT INTO chat_messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query, conversationID.String(), string(role), content, c.now().UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to append chat message %s: %w", conversationID, err)
	}
	return nil
}

func (c *ChatLogStorage) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]model.Message, error) {
	entries, err := c.ListEntries(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	messages := make([]model.Message, 0, len(entries))
	for _, entry := range entries {
		messages = append(messages, model.Message{Role: entry.Role, Content: entry.Content})
	}
	return messages, nil
}

func (c *ChatLogStorage) ListEntries(ctx context.Context, conversationID uuid.UUID) ([]model.ChatLogEntry, error) {
	query := `SELECT role, content, created_at FROM chat_messages
		WHERE conversation_id = ?
		ORDER BY created_at, id`

	rows, err := c.db.QueryContext(ctx, query, conversationID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages %s: %w", conversationID, err)
	}
	defer rows.Close()

	entries := make([]model.ChatLogEntry, 0)
	for rows.Next() {
		var (
			role      string
			content   string
			createdAt int64
		)
		if err = rows.Scan(&role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		entries = append(
			entries, model.ChatLogEntry{
				ConversationID: conversationID,
				Role:           model.Role(role),
				Content:        content,
				CreatedAt:      time.UnixMicro(createdAt),
			},
		)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chat messages %s: %w", conversationID, err)
	}
	return entries, nil
}
