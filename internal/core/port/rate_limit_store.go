package port

import (
	"context"
	"time"
)

// RateLimitStore defines the persistence operations the HTTP sliding-window
// limiter needs. This limiter throttles raw endpoint traffic and is independent
// of the verification resend limiter, which has its own persisted record shape.
type RateLimitStore interface {
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
	CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
	RecordAttempt(ctx context.Context, identifier string, at time.Time) error
	OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error)
}
