// Package storage defines the key-value contract that session records are
// persisted through. Implementations must be safe for concurrent use by many
// in-flight requests and must provide atomic single-key reads and writes.
package storage

import (
	"context"
	"errors"
	"time"
)

// Store is the minimal KV surface needed to persist expiring session records.
type Store interface {
	// Get returns the value stored at key. A missing or expired key yields
	// (nil, nil); an error is returned only for backend failures.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetEx stores value at key with the given time-to-live, replacing any
	// previous value and expiry.
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes the given keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string) error

	// Expire resets the time-to-live of an existing key. It reports false when
	// the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// TTL reports the remaining time-to-live of key. It returns NoExpiry for a
	// key without a deadline and Missing for an absent key.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Keys returns every key matching a glob-style pattern (`*`, `?`, `[...]`).
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Sentinel TTL values, matching the conventions of the Redis TTL command.
const (
	NoExpiry time.Duration = -1
	Missing  time.Duration = -2
)

var (
	// ErrInvalidTTL is returned when a non-positive TTL is supplied to SetEx
	// or Expire.
	ErrInvalidTTL = errors.New("storage: ttl must be positive")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("storage: store is closed")
)
