// Package cache is the TTL key/value store backing the hub's handshake state.
// It is the only shared mutable resource in the protocol, so every state
// transition that must happen at most once (consuming a code, consuming a
// bearer) goes through TakeOnce rather than a read followed by a write.
package cache

import (
	"context"
	"time"
)

// Store is a TTL-bound key/value store. Implementations must make each
// operation atomic per key; TakeOnce in particular must guarantee that for
// concurrent callers exactly one observes the value.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// TakeOnce reads and deletes the key as one atomic operation.
	TakeOnce(ctx context.Context, key string) (string, bool, error)
}
