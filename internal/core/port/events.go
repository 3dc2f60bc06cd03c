package port

import (
	"context"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error
	PublishLoginSucceeded(ctx context.Context, event domain.LoginSucceededEvent) error
	PublishLoginDenied(ctx context.Context, event domain.LoginDeniedEvent) error
	PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error
	PublishVerificationEmailSent(ctx context.Context, event domain.VerificationEmailSentEvent) error
	PublishTwoFactorChanged(ctx context.Context, event domain.TwoFactorChangedEvent) error
}
