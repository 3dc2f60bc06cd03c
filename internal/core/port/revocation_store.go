package port

import (
	"context"
	"time"
)

// RevocationStore tracks users whose sessions have been force-signed-out.
// Bindings consult it before treating stored session material as live.
type RevocationStore interface {
	MarkRevoked(ctx context.Context, userID, reason string, ttl time.Duration) error
	IsRevoked(ctx context.Context, userID string) (bool, error)
	ClearRevoked(ctx context.Context, userID string) error
}
