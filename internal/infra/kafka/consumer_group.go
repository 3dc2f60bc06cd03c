package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/infra/config"
)

// MessageHandler processes a single consumed Kafka message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// ConsumerGroup runs a Sarama consumer group loop and feeds every message to a handler.
type ConsumerGroup struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	logger  *zap.Logger
}

// NewConsumerGroup initializes a consumer group for the given topics.
func NewConsumerGroup(cfg config.KafkaSettings, topics []string, handler MessageHandler, logger *zap.Logger) (*ConsumerGroup, error) {
	if handler == nil {
		return nil, fmt.Errorf("message handler is required")
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	logger.Info("Kafka consumer group initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("group", cfg.ConsumerGroup),
		zap.Strings("topics", topics),
	)

	return &ConsumerGroup{
		group:   group,
		topics:  topics,
		handler: handler,
		logger:  logger,
	}, nil
}

// Run consumes until the context is cancelled. Consume returns on every
// rebalance, so the session is re-established in a loop.
func (cg *ConsumerGroup) Run(ctx context.Context) error {
	go func() {
		for err := range cg.group.Errors() {
			cg.logger.Error("Kafka consumer group error", zap.Error(err))
		}
	}()

	handler := &groupHandler{handler: cg.handler, logger: cg.logger}
	for {
		if err := cg.group.Consume(ctx, cg.topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close shuts down the consumer group.
func (cg *ConsumerGroup) Close() error {
	if err := cg.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	return nil
}

type groupHandler struct {
	handler MessageHandler
	logger  *zap.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.handler.HandleMessage(session.Context(), msg); err != nil {
			// Malformed or failed messages are logged and skipped; the
			// offset still advances so one bad event cannot wedge the claim.
			h.logger.Warn("failed to handle message",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
