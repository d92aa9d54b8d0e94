package in_memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/replica-relay/internal/model"
)

type ChatLogStorage struct {
	mu      sync.Mutex
	entries map[uuid.UUID][]model.ChatLogEntry
	now     func() time.Time
}

func NewChatLogStorage() *ChatLogStorage {
	return &ChatLogStorage{
		entries: make(map[uuid.UUID][]model.ChatLogEntry),
		now:     time.Now,
	}
}

func (c *ChatLogStorage) AppendMessage(
	_ context.Context,
	conversationID uuid.UUID,
	role model.Role,
	content string,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[conversationID] = append(
		c.entries[conversationID], model.ChatLogEntry{
			ConversationID: conversationID,
			Role:           role,
			Content:        content,
			CreatedAt:      c.now(),
		},
	)
	return nil
}

func (c *ChatLogStorage) ListMessages(_ context.Context, conversationID uuid.UUID) ([]model.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.entries[conversationID]
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

// Entries returns the stored log of one conversation, timestamps included.
func (c *ChatLogStorage) Entries(conversationID uuid.UUID) []model.ChatLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := make([]model.ChatLogEntry, len(c.entries[conversationID]))
	copy(entries, c.entries[conversationID])
	return entries
}
