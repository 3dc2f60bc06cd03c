package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishUserRegistered publishes auth.user.registered events.
func (p *EventPublisher) PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error {
	payload := struct {
		UserID       string         `json:"user_id"`
		Username     string         `json:"username"`
		Email        string         `json:"email"`
		Binding      string         `json:"binding"`
		ReferralID   *string        `json:"referral_id,omitempty"`
		RegisteredAt time.Time      `json:"registered_at"`
		Metadata     map[string]any `json:"metadata,omitempty"`
	}{
		UserID:       event.UserID,
		Username:     event.Username,
		Email:        event.Email,
		Binding:      event.Binding,
		ReferralID:   event.ReferralID,
		RegisteredAt: event.RegisteredAt.UTC(),
		Metadata:     event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.user.registered", event.UserID, event.RegisteredAt, payload)
}

// PublishLoginSucceeded publishes auth.login.succeeded events.
func (p *EventPublisher) PublishLoginSucceeded(ctx context.Context, event domain.LoginSucceededEvent) error {
	payload := struct {
		UserID          string         `json:"user_id"`
		Binding         string         `json:"binding"`
		TwoFactorMethod *string        `json:"twofactor_method,omitempty"`
		LoggedInAt      time.Time      `json:"logged_in_at"`
		Metadata        map[string]any `json:"metadata,omitempty"`
	}{
		UserID:          event.UserID,
		Binding:         event.Binding,
		TwoFactorMethod: event.TwoFactorMethod,
		LoggedInAt:      event.LoggedInAt.UTC(),
		Metadata:        event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.login.succeeded", event.UserID, event.LoggedInAt, payload)
}

// PublishLoginDenied publishes auth.login.denied events. The identifier is
// already masked by the caller; raw emails never enter the bus.
func (p *EventPublisher) PublishLoginDenied(ctx context.Context, event domain.LoginDeniedEvent) error {
	payload := struct {
		Identifier string         `json:"identifier"`
		Reason     string         `json:"reason"`
		DeniedAt   time.Time      `json:"denied_at"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		Identifier: event.Identifier,
		Reason:     event.Reason,
		DeniedAt:   event.DeniedAt.UTC(),
		Metadata:   event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.login.denied", "", event.DeniedAt, payload)
}

// PublishSessionRevoked publishes auth.session.revoked events.
func (p *EventPublisher) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	payload := struct {
		UserID    string         `json:"user_id"`
		Reason    string         `json:"reason"`
		RevokedAt time.Time      `json:"revoked_at"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		UserID:    event.UserID,
		Reason:    event.Reason,
		RevokedAt: event.RevokedAt.UTC(),
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.session.revoked", event.UserID, event.RevokedAt, payload)
}

// PublishVerificationEmailSent publishes auth.verification.email_sent events.
func (p *EventPublisher) PublishVerificationEmailSent(ctx context.Context, event domain.VerificationEmailSentEvent) error {
	payload := struct {
		UserID      string         `json:"user_id"`
		MaskedEmail string         `json:"masked_email"`
		Purpose     string         `json:"purpose"`
		Attempt     int            `json:"attempt"`
		SentAt      time.Time      `json:"sent_at"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		UserID:      event.UserID,
		MaskedEmail: event.MaskedEmail,
		Purpose:     event.Purpose,
		Attempt:     event.Attempt,
		SentAt:      event.SentAt.UTC(),
		Metadata:    event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.verification.email_sent", event.UserID, event.SentAt, payload)
}

// PublishTwoFactorChanged publishes auth.twofactor.changed events.
func (p *EventPublisher) PublishTwoFactorChanged(ctx context.Context, event domain.TwoFactorChangedEvent) error {
	payload := struct {
		UserID    string         `json:"user_id"`
		Enabled   bool           `json:"enabled"`
		Method    string         `json:"method"`
		ChangedAt time.Time      `json:"changed_at"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		UserID:    event.UserID,
		Enabled:   event.Enabled,
		Method:    event.Method,
		ChangedAt: event.ChangedAt.UTC(),
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "auth.twofactor.changed", event.UserID, event.ChangedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
