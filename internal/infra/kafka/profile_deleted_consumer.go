package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
)

// ProfileDeletedConsumer force-signs-out users whose profile record has been
// removed by the profile service. A session without a backing profile must not
// survive past the next token check.
type ProfileDeletedConsumer struct {
	revocations port.RevocationStore
	ttl         time.Duration
	logger      *zap.Logger
}

// NewProfileDeletedConsumer constructs a consumer that marks deleted-profile users as revoked.
func NewProfileDeletedConsumer(revocations port.RevocationStore, ttl time.Duration, logger *zap.Logger) *ProfileDeletedConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileDeletedConsumer{revocations: revocations, ttl: ttl, logger: logger}
}

type profileDeletedMessage struct {
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// HandleMessage decodes a Kafka message and applies the revocation.
func (c *ProfileDeletedConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	var event profileDeletedMessage
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("decode profile deleted event: %w", err)
	}

	return c.HandleEvent(ctx, event.UserID)
}

// HandleEvent marks the user revoked so bindings reject their session material.
func (c *ProfileDeletedConsumer) HandleEvent(ctx context.Context, userID string) error {
	if c.revocations == nil {
		return nil
	}
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	ttl := c.ttl
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	if err := c.revocations.MarkRevoked(ctx, userID, "profile_deleted", ttl); err != nil {
		c.logger.Warn("failed to mark user revoked", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("mark user revoked: %w", err)
	}

	c.logger.Info("forced sign-out for deleted profile", zap.String("user_id", userID))
	return nil
}
