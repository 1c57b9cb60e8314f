package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open builds the configured Repository. An unreachable Redis falls back to
// memory with a warning so the viewer still starts.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (Repository, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		log.Info("using memory registry")
		return NewMemoryRepository(), nil

	case BackendSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = "streams.db"
		}
		repo, err := OpenSQLite(path, 5*time.Second)
		if err != nil {
			return nil, err
		}
		log.Info("using sqlite registry", slog.String("path", path))
		return repo, nil

	case BackendRedis:
		client, err := NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("redis unavailable, falling back to memory registry", slog.String("error", err.Error()))
			return NewMemoryRepository(), nil
		}
		log.Info("using redis registry", slog.String("addr", cfg.RedisAddr))
		return NewRedisRepository(client, cfg.RedisPrefix), nil

	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Backend)
	}
}
