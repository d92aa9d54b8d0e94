package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/iamvkosarev/replica-relay/config"
	"github.com/iamvkosarev/replica-relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePersonasFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "personas.yaml")
	require.NoError(t, os.WriteFile(path, []byte("personas:\n  - id: ada\n    name: Ada\n"), 0o600))
	return path
}

func testResources(t *testing.T, cfg *config.Config) *resources {
	t.Helper()
	res := newResources(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(res.Close)
	return res
}

func TestPersonaStorageSeededFromFile(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	for _, kind := range []string{StorageMemory, StorageRedis} {
		t.Run(
			kind, func(t *testing.T) {
				cfg := &config.Config{
					Storage: config.Storage{Personas: kind, PersonasFile: writePersonasFile(t)},
					Redis:   config.Redis{Endpoint: mr.Addr()},
				}
				storage, err := testResources(t, cfg).personaStorage(ctx)
				require.NoError(t, err)

				persona, err := storage.GetPersona(ctx, "ada")
				require.NoError(t, err)
				assert.Equal(t, "Ada", persona.Name)

				_, err = storage.GetPersona(ctx, "ghost")
				assert.ErrorIs(t, err, model.ErrPersonaNotFound)
			},
		)
	}
}

func TestUnknownStorage(t *testing.T) {
	ctx := context.Background()
	res := testResources(t, &config.Config{Storage: config.Storage{Personas: "etcd", ChatLog: "etcd"}})

	_, err := res.personaStorage(ctx)
	assert.ErrorIs(t, err, ErrUnknownStorage)
	_, err = res.chatLogStorage(ctx)
	assert.ErrorIs(t, err, ErrUnknownStorage)
}

func TestChatLogStorageKinds(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	for _, kind := range []string{StorageMemory, StorageRedis, StorageSQLite} {
		t.Run(
			kind, func(t *testing.T) {
				cfg := &config.Config{
					Storage: config.Storage{ChatLog: kind},
					Redis:   config.Redis{Endpoint: mr.Addr()},
					SQLite:  config.SQLite{Path: filepath.Join(t.TempDir(), "chat-log.db")},
				}
				storage, err := testResources(t, cfg).chatLogStorage(ctx)
				require.NoError(t, err)
				require.NotNil(t, storage)

				conversationID := uuid.New()
				require.NoError(t, storage.AppendMessage(ctx, conversationID, model.RoleUser, "hi"))
				messages, err := storage.ListMessages(ctx, conversationID)
				require.NoError(t, err)
				assert.Equal(t, []model.Message{{Role: model.RoleUser, Content: "hi"}}, messages)
			},
		)
	}
}

func TestChatLogDisabled(t *testing.T) {
	storage, err := testResources(t, &config.Config{Storage: config.Storage{ChatLog: StorageNone}}).chatLogStorage(context.Background())
	require.NoError(t, err)
	assert.Nil(t, storage)
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := &config.Config{
		Storage: config.Storage{Personas: StorageRedis},
		Redis:   config.Redis{Endpoint: addr},
	}
	_, err := testResources(t, cfg).personaStorage(context.Background())
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger(config.Log{Level: "debug", Format: "json"})
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger = NewLogger(config.Log{Level: "nonsense"})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
