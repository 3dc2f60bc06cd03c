package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishUserRegistered logs auth.user.registered events.
func (p *StubPublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	payload := map[string]any{
		"user_id":       event.UserID,
		"username":      event.Username,
		"email":         event.Email,
		"binding":       event.Binding,
		"referral_id":   event.ReferralID,
		"registered_at": event.RegisteredAt,
		"metadata":      event.Metadata,
	}
	p.logEvent("auth.user.registered", event.UserID, event.RegisteredAt, payload)
	return nil
}

// PublishLoginSucceeded logs auth.login.succeeded events.
func (p *StubPublisher) PublishLoginSucceeded(_ context.Context, event domain.LoginSucceededEvent) error {
	payload := map[string]any{
		"user_id":          event.UserID,
		"binding":          event.Binding,
		"twofactor_method": event.TwoFactorMethod,
		"logged_in_at":     event.LoggedInAt,
		"metadata":         event.Metadata,
	}
	p.logEvent("auth.login.succeeded", event.UserID, event.LoggedInAt, payload)
	return nil
}

// PublishLoginDenied logs auth.login.denied events.
func (p *StubPublisher) PublishLoginDenied(_ context.Context, event domain.LoginDeniedEvent) error {
	payload := map[string]any{
		"identifier": event.Identifier,
		"reason":     event.Reason,
		"denied_at":  event.DeniedAt,
		"metadata":   event.Metadata,
	}
	p.logEvent("auth.login.denied", "", event.DeniedAt, payload)
	return nil
}

// PublishSessionRevoked logs auth.session.revoked events.
func (p *StubPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	payload := map[string]any{
		"user_id":    event.UserID,
		"reason":     event.Reason,
		"revoked_at": event.RevokedAt,
		"metadata":   event.Metadata,
	}
	p.logEvent("auth.session.revoked", event.UserID, event.RevokedAt, payload)
	return nil
}

// PublishVerificationEmailSent logs auth.verification.email_sent events.
func (p *StubPublisher) PublishVerificationEmailSent(_ context.Context, event domain.VerificationEmailSentEvent) error {
	payload := map[string]any{
		"user_id":      event.UserID,
		"masked_email": event.MaskedEmail,
		"purpose":      event.Purpose,
		"attempt":      event.Attempt,
		"sent_at":      event.SentAt,
		"metadata":     event.Metadata,
	}
	p.logEvent("auth.verification.email_sent", event.UserID, event.SentAt, payload)
	return nil
}

// PublishTwoFactorChanged logs auth.twofactor.changed events.
func (p *StubPublisher) PublishTwoFactorChanged(_ context.Context, event domain.TwoFactorChangedEvent) error {
	payload := map[string]any{
		"user_id":    event.UserID,
		"enabled":    event.Enabled,
		"method":     event.Method,
		"changed_at": event.ChangedAt,
		"metadata":   event.Metadata,
	}
	p.logEvent("auth.twofactor.changed", event.UserID, event.ChangedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
