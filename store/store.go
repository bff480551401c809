// Package store defines the composite persistence interface and the
// driver factory. A single backend implements both the job ledger and
// the job-log store. Backends: Postgres, SQLite, Redis, and Memory.
package store

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/job"
	"github.com/steveoberholzer/ShareSync/joblog"
	"github.com/steveoberholzer/ShareSync/store/memory"
	"github.com/steveoberholzer/ShareSync/store/postgres"
	"github.com/steveoberholzer/ShareSync/store/redis"
	"github.com/steveoberholzer/ShareSync/store/sqlite"
)

// Store is the composite persistence interface.
type Store interface {
	job.Store
	joblog.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error
}

// Open creates the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg sharesync.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.New(ctx, cfg.PostgresDSN)
	case "sqlite":
		return sqlite.New(cfg.SQLitePath)
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
		})
		return &redisStore{Store: redis.New(client), client: client}, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("sharesync/store: unknown driver %q", cfg.Driver)
	}
}

// redisStore pairs the redis backend with the client Open created for
// it. The backend's own Close is a no-op because it never owns the
// client; here Open does, so Close releases it.
type redisStore struct {
	*redis.Store
	client *goredis.Client
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*redisStore)(nil)
