// Package queuestore provides durable backends for persistent queues.
package queuestore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/flowgate/internal/queue"
	"github.com/sungwon/flowgate/internal/storage"
)

// Config selects and configures the durable backend.
type Config struct {
	Type      string `mapstructure:"type"`       // "file", "redis", "postgres" or "" for none
	Path      string `mapstructure:"path"`       // base directory for the file backend
	KeyPrefix string `mapstructure:"key_prefix"` // key prefix for the redis backend
}

// Deps carries the shared clients a backend may need.
type Deps struct {
	Redis *redis.Client
	DB    *storage.DB
}

// New creates the durable backend named by cfg.Type. It returns nil and no
// error when no durable backend is configured.
func New(ctx context.Context, cfg Config, deps Deps, log zerolog.Logger) (queue.Backend, error) {
	switch cfg.Type {
	case "":
		log.Warn().Msg("No durable queue store configured, persistent queues are unavailable")
		return nil, nil
	case "file":
		return NewFileBackend(cfg.Path)
	case "redis":
		if deps.Redis == nil {
			return nil, fmt.Errorf("queuestore: redis backend requires a redis client")
		}
		return NewRedisBackend(deps.Redis, cfg.KeyPrefix), nil
	case "postgres":
		if deps.DB == nil {
			return nil, fmt.Errorf("queuestore: postgres backend requires a database")
		}
		if err := deps.DB.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("queuestore: migrate: %w", err)
		}
		return NewPostgresBackend(deps.DB), nil
	default:
		return nil, fmt.Errorf("queuestore: unknown store type: %s", cfg.Type)
	}
}
