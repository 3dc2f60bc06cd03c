package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

const defaultKVPrefix = "agm:kv"

// KVRepository implements port.KVStore on Redis. Values are opaque byte
// payloads (JSON-encoded by callers, with their own timestamps), so record
// freshness never depends on the Redis TTL alone.
type KVRepository struct {
	client *red.Client
	prefix string
}

// NewKVRepository constructs a KV repository with the provided Redis client and key prefix.
func NewKVRepository(client *red.Client, keyPrefix string) *KVRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultKVPrefix
	}
	return &KVRepository{client: client, prefix: prefix}
}

// Get retrieves the raw value for a key.
func (r *KVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return value, nil
}

// Set stores the value under the key with the supplied TTL (zero means no expiry).
func (r *KVRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// SetNX stores the value only when the key is absent and reports whether the write happened.
func (r *KVRepository) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	written, err := r.client.SetNX(ctx, r.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return written, nil
}

// Delete removes the key. Deleting an absent key is not an error.
func (r *KVRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *KVRepository) key(key string) string {
	return fmt.Sprintf("%s:%s", r.prefix, key)
}

var _ port.KVStore = (*KVRepository)(nil)
