package port

import (
	"context"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
)

// TwoFactorStore persists per-user second-factor configuration.
// ConsumeBackupCode removes the hash from the unused set atomically and
// reports whether it was present; a hash can be consumed at most once.
type TwoFactorStore interface {
	Get(ctx context.Context, userID string) (*domain.TwoFactorStatus, error)
	Upsert(ctx context.Context, status domain.TwoFactorStatus) error
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
	ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error
	Delete(ctx context.Context, userID string) error
}
