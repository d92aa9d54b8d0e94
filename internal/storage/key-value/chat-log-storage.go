package key_value

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/replica-relay/internal/model"
	"github.com/redis/go-redis/v9"
)

type chatLogEntryInternal struct {
	Role      model.Role `json:"role"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
}

// ChatLogStorage keeps every conversation as a redis list in insertion
// order, which is also created_at order.
type ChatLogStorage struct {
	rdb *redis.Client
	now func() time.Time
}

func NewChatLogStorage(rdb *redis.Client) *ChatLogStorage {
	return &ChatLogStorage{
		rdb: rdb,
		now: time.Now,
	}
}

func (c *ChatLogStorage) AppendMessage(
	ctx context.Context,
	conversationID uuid.UUID,
	role model.Role,
	content string,
) error {
	entryJSON, err := json.Marshal(
		chatLogEntryInternal{
			Role:      role,
			Content:   content,
			CreatedAt: c.now().UTC(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to marshal chat log entry: %w", err)
	}
	chatLogKey := getChatLogKey(conversationID)
	if err = c.rdb.RPush(ctx, chatLogKey, entryJSON).Err(); err != nil {
		return fmt.Errorf("failed to append chat log entry %s: %w", chatLogKey, err)
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
		messages = append(
			messages, model.Message{
				Role:    entry.Role,
				Content: entry.Content,
			},
		)
	}
	return messages, nil
}

func (c *ChatLogStorage) ListEntries(ctx context.Context, conversationID uuid.UUID) ([]model.ChatLogEntry, error) {
	chatLogKey := getChatLogKey(conversationID)
	raws, err := c.rdb.LRange(ctx, chatLogKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list chat log %s: %w", chatLogKey, err)
	}
	entries := make([]model.ChatLogEntry, 0, len(raws))
	for _, raw := range raws {
		var entryInt chatLogEntryInternal
		if err = json.Unmarshal([]byte(raw), &entryInt); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat log entry %s: %w", chatLogKey, err)
		}
		entries = append(
			entries, model.ChatLogEntry{
				ConversationID: conversationID,
				Role:           entryInt.Role,
				Content:        entryInt.Content,
				CreatedAt:      entryInt.CreatedAt,
			},
		)
	}
	return entries, nil
}

func getChatLogKey(conversationID uuid.UUID) string {
	return fmt.Sprintf("chat_log_%v", conversationID.String())
}
