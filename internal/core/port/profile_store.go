package port

import (
	"context"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
)

// ProfileStore exposes persistence behavior for user profiles.
// FindByUsername returns every match so callers can detect the
// duplicate-username integrity condition instead of silently picking one.
type ProfileStore interface {
	Create(ctx context.Context, profile domain.Profile) error
	GetByID(ctx context.Context, id string) (*domain.Profile, error)
	GetByEmail(ctx context.Context, email string) (*domain.Profile, error)
	FindByUsername(ctx context.Context, username string) ([]domain.Profile, error)
	SetVerified(ctx context.Context, id string, verified bool) error
	Delete(ctx context.Context, id string) error
}
