package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/iamvkosarev/replica-relay/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ChatLogStorage struct {
	conn *pgxpool.Pool
}

func NewChatLogStorage(conn *pgxpool.Pool) *ChatLogStorage {
	return &ChatLogStorage{
		conn: conn,
	}
}

func (c *ChatLogStorage) AppendMessage(
	ctx context.Context,
	conversationID uuid.UUID,
	role model.Role,
	content string,
) error {
	query := `INSERT INTO chat_messages (conversation_id, role, content) VALUES ($1, $2, $3)`

	if _, err := c.conn.Exec(ctx, query, conversationID, string(role), content); err != nil {
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
	query := `SELECT conversation_id, role, content, created_at
		FROM chat_messages WHERE conversation_id = $1
		ORDER BY created_at, id`

	rows, err := c.conn.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages %s: %w", conversationID, err)
	}
	defer rows.Close()

	entries := make([]model.ChatLogEntry, 0)
	for rows.Next() {
		var (
			entry model.ChatLogEntry
			role  string
		)
		if err = rows.Scan(&entry.ConversationID, &role, &entry.Content, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		entry.Role = model.Role(role)
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chat messages %s: %w", conversationID, err)
	}
	return entries, nil
}
