// Package store provides the key/value backends that hold rate limit state.
package store

import (
	"context"
	"time"
)

// Store is a hash-per-key state store with optional expiry.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves the fields stored under key.
	// Returns nil (and no error) when the key is absent or expired.
	Get(ctx context.Context, key string) (map[string]string, error)

	// Set replaces the fields stored under key. A ttl of 0 means no expiry.
	Set(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error

	// Increment atomically adds delta to a numeric field under key and
	// returns the new value. The key is created if absent; ttl refreshes
	// the key's expiry.
	Increment(ctx context.Context, key, field string, delta int64, ttl time.Duration) (int64, error)

	// Delete removes the key and all its fields.
	Delete(ctx context.Context, key string) error

	// Clear removes all keys owned by this store.
	Clear(ctx context.Context) error
}
