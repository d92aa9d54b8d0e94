package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/iamvkosarev/replica-relay/config"
	"github.com/iamvkosarev/replica-relay/internal/model"
	in_memory "github.com/iamvkosarev/replica-relay/internal/storage/in-memory"
	key_value "github.com/iamvkosarev/replica-relay/internal/storage/key-value"
	"github.com/iamvkosarev/replica-relay/internal/storage/postgres"
	"github.com/iamvkosarev/replica-relay/internal/storage/sqlite"
	"github.com/iamvkosarev/replica-relay/internal/usecase"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	StorageNone     = "none"
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

var ErrUnknownStorage = errors.New("unknown storage kind")

type personaSaver interface {
	SavePersona(ctx context.Context, persona model.Persona) error
}

// resources owns the connections shared by the storages of one process.
type resources struct {
	cfg     *config.Config
	logger  *slog.Logger
	rdb     *redis.Client
	pool    *pgxpool.Pool
	closers []func()
}

func newResources(cfg *config.Config, logger *slog.Logger) *resources {
	return &resources{cfg: cfg, logger: logger}
}

func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (r *resources) redisClient(ctx context.Context) (*redis.Client, error) {
	if r.rdb != nil {
		return r.rdb, nil
	}
	rdb := redis.NewClient(
		&redis.Options{
			Addr:     r.cfg.Redis.Endpoint,
			Password: r.cfg.Redis.Password,
			DB:       r.cfg.Redis.DB,
		},
	)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis %s: %w", r.cfg.Redis.Endpoint, err)
	}
	r.rdb = rdb
	r.closers = append(r.closers, func() { _ = rdb.Close() })
	return rdb, nil
}

func (r *resources) postgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	if r.pool != nil {
		return r.pool, nil
	}
	pool, err := postgres.NewPool(ctx, r.cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if err = postgres.EnsureTables(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	r.pool = pool
	r.closers = append(r.closers, pool.Close)
	return pool, nil
}

func (r *resources) personaStorage(ctx context.Context) (usecase.PersonaStorage, error) {
	var (
		storage usecase.PersonaStorage
		saver   personaSaver
	)
	switch r.cfg.Storage.Personas {
	case StorageMemory, "":
		memory := in_memory.NewPersonaStorage()
		storage, saver = memory, memory
	case StorageRedis:
		rdb, err := r.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		kv := key_value.NewPersonaStorage(rdb)
		storage, saver = kv, kv
	case StoragePostgres:
		pool, err := r.postgresPool(ctx)
		if err != nil {
			return nil, err
		}
		pg := postgres.NewPersonaStorage(pool)
		storage, saver = pg, pg
	default:
		return nil, fmt.Errorf("%w for personas: %q", ErrUnknownStorage, r.cfg.Storage.Personas)
	}

	if r.cfg.Storage.PersonasFile != "" {
		personas, err := in_memory.LoadPersonasFile(r.cfg.Storage.PersonasFile)
		if err != nil {
			return nil, err
		}
		for _, persona := range personas {
			if err = saver.SavePersona(ctx, persona); err != nil {
				return nil, fmt.Errorf("failed to seed persona %s: %w", persona.ID, err)
			}
		}
		r.logger.Info(
			"personas seeded",
			slog.String("file", r.cfg.Storage.PersonasFile),
			slog.Int("count", len(personas)),
		)
	}
	return storage, nil
}

// chatLogStorage returns nil when the chat log is switched off.
func (r *resources) chatLogStorage(ctx context.Context) (usecase.ChatLogStorage, error) {
	switch r.cfg.Storage.ChatLog {
	case StorageNone:
		return nil, nil
	case StorageMemory, "":
		return in_memory.NewChatLogStorage(), nil
	case StorageRedis:
		rdb, err := r.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return key_value.NewChatLogStorage(rdb), nil
	case StoragePostgres:
		pool, err := r.postgresPool(ctx)
		if err != nil {
			return nil, err
		}
		return postgres.NewChatLogStorage(pool), nil
	case StorageSQLite:
		storage, err := sqlite.Open(ctx, r.cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, func() { _ = storage.Close() })
		return storage, nil
	default:
		return nil, fmt.Errorf("%w for chat log: %q", ErrUnknownStorage, r.cfg.Storage.ChatLog)
	}
}
