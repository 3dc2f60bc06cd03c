package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
)

const defaultRevokedPrefix = "agm:revoked-user"

// RevokedUserRepository marks users whose sessions were force-signed-out
// (profile deleted mid-session, admin action). Bindings consult the mark
// before honoring previously issued session material.
type RevokedUserRepository struct {
	client *red.Client
	prefix string
}

// NewRevokedUserRepository constructs a repository with the provided Redis client and key prefix.
func NewRevokedUserRepository(client *red.Client, keyPrefix string) *RevokedUserRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRevokedPrefix
	}
	return &RevokedUserRepository{client: client, prefix: prefix}
}

// MarkRevoked flags every outstanding session for the user as revoked for the TTL.
// The TTL only needs to outlive the longest session the bindings can issue.
func (r *RevokedUserRepository) MarkRevoked(ctx context.Context, userID, reason string, ttl time.Duration) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if err := r.client.Set(ctx, r.key(userID), reason, ttl).Err(); err != nil {
		return fmt.Errorf("redis mark revoked: %w", err)
	}
	return nil
}

// IsRevoked reports whether the user currently carries a revocation mark.
func (r *RevokedUserRepository) IsRevoked(ctx context.Context, userID string) (bool, error) {
	count, err := r.client.Exists(ctx, r.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check revoked: %w", err)
	}
	return count > 0, nil
}

// ClearRevoked removes the revocation mark, re-admitting fresh sessions.
func (r *RevokedUserRepository) ClearRevoked(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis clear revoked: %w", err)
	}
	return nil
}

func (r *RevokedUserRepository) key(userID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, userID)
}

var _ port.RevocationStore = (*RevokedUserRepository)(nil)
