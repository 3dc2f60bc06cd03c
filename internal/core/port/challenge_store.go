package port

import (
	"context"
	"time"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
)

// ChallengeStore persists in-flight login challenges for the two-factor
// orchestrator. Challenges are TTL-bound; Get on an expired or unknown id
// returns the repository not-found error.
type ChallengeStore interface {
	Save(ctx context.Context, challenge domain.LoginChallenge, ttl time.Duration) error
	Get(ctx context.Context, id string) (*domain.LoginChallenge, error)
	Delete(ctx context.Context, id string) error
}
