package port

import (
	"context"
	"time"
)

// KVStore is the durable key-value storage behind the resend limiter and the
// pending-identity holder. Records are JSON-encoded with explicit timestamps so
// freshness can be computed independently of the engine's own TTL, and the
// production implementation can be swapped for an in-memory fake in tests.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores the value only when the key is absent and reports whether
	// the write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}
