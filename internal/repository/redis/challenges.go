package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

const defaultChallengePrefix = "agm:challenge"

// ChallengeRepository persists in-flight login challenges in Redis as JSON
// documents with a TTL matching the challenge window.
type ChallengeRepository struct {
	client *red.Client
	prefix string
}

// NewChallengeRepository constructs a challenge repository with the provided Redis client and key prefix.
func NewChallengeRepository(client *red.Client, keyPrefix string) *ChallengeRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultChallengePrefix
	}
	return &ChallengeRepository{client: client, prefix: prefix}
}

type challengeDocument struct {
	ID             string                 `json:"id"`
	State          domain.ChallengeState  `json:"state"`
	Method         domain.TwoFactorMethod `json:"method,omitempty"`
	Principal      principalDocument      `json:"principal"`
	SessionBinding domain.BindingName     `json:"session_binding"`
	SessionData    []byte                 `json:"session_data"`
	SessionExpiry  time.Time              `json:"session_expiry"`
	CreatedAt      time.Time              `json:"created_at"`
	ExpiresAt      time.Time              `json:"expires_at"`
	LastCodeSentAt *time.Time             `json:"last_code_sent_at,omitempty"`
}

type principalDocument struct {
	ID            string             `json:"id"`
	Email         string             `json:"email"`
	Username      string             `json:"username"`
	EmailVerified *bool              `json:"email_verified,omitempty"`
	Binding       domain.BindingName `json:"binding"`
	Raw           map[string]any     `json:"raw,omitempty"`
}

// Save stores the challenge with the supplied TTL.
func (r *ChallengeRepository) Save(ctx context.Context, challenge domain.LoginChallenge, ttl time.Duration) error {
	if challenge.ID == "" {
		return errors.New("challenge id is required")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	doc := challengeDocument{
		ID:     challenge.ID,
		State:  challenge.State,
		Method: challenge.Method,
		Principal: principalDocument{
			ID:            challenge.Principal.ID,
			Email:         challenge.Principal.Email,
			Username:      challenge.Principal.Username,
			EmailVerified: challenge.Principal.EmailVerified,
			Binding:       challenge.Principal.Binding,
			Raw:           challenge.Principal.Raw,
		},
		SessionBinding: challenge.Session.Binding,
		SessionData:    challenge.Session.Material,
		SessionExpiry:  challenge.Session.ExpiresAt,
		CreatedAt:      challenge.CreatedAt,
		ExpiresAt:      challenge.ExpiresAt,
		LastCodeSentAt: challenge.LastCodeSentAt,
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode challenge: %w", err)
	}

	if err := r.client.Set(ctx, r.key(challenge.ID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("redis store challenge: %w", err)
	}

	return nil
}

// Get retrieves a challenge by id.
func (r *ChallengeRepository) Get(ctx context.Context, id string) (*domain.LoginChallenge, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get challenge: %w", err)
	}

	var doc challengeDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}

	return &domain.LoginChallenge{
		ID:     doc.ID,
		State:  doc.State,
		Method: doc.Method,
		Principal: domain.Principal{
			ID:            doc.Principal.ID,
			Email:         doc.Principal.Email,
			Username:      doc.Principal.Username,
			EmailVerified: doc.Principal.EmailVerified,
			Binding:       doc.Principal.Binding,
			Raw:           doc.Principal.Raw,
		},
		Session: domain.ProviderSession{
			Binding:   doc.SessionBinding,
			Material:  doc.SessionData,
			ExpiresAt: doc.SessionExpiry,
		},
		CreatedAt:      doc.CreatedAt,
		ExpiresAt:      doc.ExpiresAt,
		LastCodeSentAt: doc.LastCodeSentAt,
	}, nil
}

// Delete removes the challenge.
func (r *ChallengeRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("redis delete challenge: %w", err)
	}
	return nil
}

func (r *ChallengeRepository) key(id string) string {
	return fmt.Sprintf("%s:%s", r.prefix, id)
}

var _ port.ChallengeStore = (*ChallengeRepository)(nil)
