// Package cache holds the key-value backends used for tenant state that does
// not live in Postgres, such as task boards. Backends operate on physical
// keys; callers never use them directly but go through a TenantStore, which
// derives every key from a tenant.Context.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oriys/tillage/internal/logging"
)

// ErrNotFound is returned when a key does not exist in the backend.
var ErrNotFound = errors.New("cache: key not found")

// ErrClosed is returned by a MemoryBackend after Close.
var ErrClosed = errors.New("cache: backend closed")

// Backend names accepted by Open.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Backend abstracts a key-value store with TTL support.
// All operations are safe for concurrent use.
type Backend interface {
	// Get retrieves the value associated with key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A zero TTL means the entry
	// does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. It is not an error to delete a key that does
	// not exist.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key exists and has not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifies connectivity to the underlying store.
	Ping(ctx context.Context) error

	// Close releases all resources held by the backend.
	Close() error

	// Name identifies the backend in logs and metrics.
	Name() string
}

// Config selects and configures the backend.
type Config struct {
	Backend   string // redis or memory
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Open creates the backend named by cfg. The choice is made once at startup;
// a Redis backend that cannot be reached is an error, never a silent switch
// to memory.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case BackendRedis:
		b := NewRedisBackend(RedisConfig{
			Addr:      cfg.Addr,
			Password:  cfg.Password,
			DB:        cfg.DB,
			KeyPrefix: cfg.KeyPrefix,
		})
		if err := b.Ping(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("connect redis at %s: %w", cfg.Addr, err)
		}
		return b, nil
	case BackendMemory, "":
		logging.Op().Warn("kv backend running in degraded in-memory mode; data is not durable and not shared between instances")
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown kv backend: %q", cfg.Backend)
	}
}
