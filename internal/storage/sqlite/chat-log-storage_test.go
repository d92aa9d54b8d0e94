package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/iamvkosarev/replica-relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatLogStorage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat-log.db")

	storage, err := Open(ctx, path)
	require.NoError(t, err)

	conversationID := uuid.New()
	require.NoError(t, storage.AppendMessage(ctx, conversationID, model.RoleUser, "hi"))
	require.NoError(t, storage.AppendMessage(ctx, conversationID, model.RoleAssistant, "hello"))
	require.NoError(t, storage.AppendMessage(ctx, uuid.New(), model.RoleUser, "elsewhere"))
	require.NoError(t, storage.Close())

	// The log survives a reopen.
	storage, err = Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	messages, err := storage.ListMessages(ctx, conversationID)
	require.NoError(t, err)
	assert.Equal(t, []model.Message{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello"},
	}, messages)

	entries, err := storage.ListEntries(ctx, conversationID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.False(t, entries[0].CreatedAt.IsZero())

	empty, err := storage.ListMessages(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}
