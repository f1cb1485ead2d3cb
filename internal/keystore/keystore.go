// Package keystore defines the narrow key-value contract the gateway needs
// for rate counters and admin sessions: get, set-with-ttl, delete, and an
// atomic increment that sets the key's expiry on first creation.
package keystore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("keystore: key not found")

// Store is the key-value contract shared by rate counters and sessions.
// Implementations must make IncrWithTTL atomic with respect to concurrent
// callers: the increment and the conditional expire execute as one batch so
// a crash between them cannot leave a counter that never resets.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key with the given TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// IncrWithTTL atomically increments the integer at key and, only when
	// the increment created the key, sets its expiry to ttl. Returns the
	// value after the increment and the key's remaining time to live, which
	// shrinks across a window rather than resetting on every call.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)
}
