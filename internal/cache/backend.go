package cache

import (
	"context"
	"time"
)

// Backend is the storage interface behind the cache manager. Callers are
// agnostic to which implementation is active: an in-process map or a shared
// Redis store with the same TTL semantics. Implementations must be safe
// under concurrent access.
type Backend interface {
	// Get returns the raw value for key and whether it was present.
	// Expired entries are treated as absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a value under key with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// DeletePattern removes every key containing the substring and returns
	// how many were removed.
	DeletePattern(ctx context.Context, substring string) (int, error)

	// Ping checks backend reachability.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error

	// Name identifies the backend for logging and stats.
	Name() string
}
