package kvstore

import (
	"context"
	"time"
)

// Store is a minimal key-value interface backing sandbox state.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or "" if the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX stores value under key only if the key does not exist.
	// Returns true if the value was stored.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Del removes the given keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Exists returns how many of the given keys exist.
	Exists(ctx context.Context, keys ...string) (int64, error)

	// IncrBy atomically adds delta to the integer stored at key,
	// creating it at delta if absent. Returns the new value.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// Keys returns all keys matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
