// Package persistence selects and opens the configured storage backend.
package persistence

import (
	"context"
	"fmt"

	"github.com/guildkit/guild-leveling/internal/domain/leveling"
	"github.com/guildkit/guild-leveling/internal/infrastructure/persistence/memory"
	"github.com/guildkit/guild-leveling/internal/infrastructure/persistence/postgres"
	"github.com/guildkit/guild-leveling/internal/infrastructure/persistence/redis"
	"github.com/guildkit/guild-leveling/pkg/logger"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Options describes the backend to open. Only the selected backend's fields are read.
type Options struct {
	Backend string

	DatabaseURL string
	Pool        postgres.PoolOptions
	AutoMigrate bool

	Redis redis.Config
}

// Opened is a ready store plus its release function.
type Opened struct {
	Store leveling.Store
	Close func()
}

// Open connects to the backend, runs migrations when asked and returns the store.
func Open(ctx context.Context, opts Options, log *logger.Logger) (*Opened, error) {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With(logger.Component("storage"), logger.String("backend", opts.Backend))

	switch opts.Backend {
	case BackendMemory, "":
		log.Warn("using in-memory storage, progress is lost on restart")
		return &Opened{Store: memory.NewStore(), Close: func() {}}, nil

	case BackendPostgres:
		conn, err := postgres.NewConnectionFromURL(ctx, opts.DatabaseURL, opts.Pool)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if opts.AutoMigrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				conn.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database migrations applied")
		}
		log.Info("database connection established")
		return &Opened{Store: postgres.NewStore(conn), Close: conn.Close}, nil

	case BackendRedis:
		client, err := redis.NewClient(ctx, opts.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("redis connection established", logger.String("addr", opts.Redis.Addr()))
		return &Opened{
			Store: redis.NewStore(client, opts.Redis),
			Close: func() {
				if err := client.Close(); err != nil {
					log.Warn("failed to close redis client", logger.Err(err))
				}
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
