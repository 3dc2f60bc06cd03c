package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

const (
	defaultCodePrefix = "agm:code"

	fieldCodeHash  = "code_hash"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
	fieldAttempts  = "attempts"
)

// CodeRecord represents a stored one-time email code. Only the sha256 hash of
// the code is persisted.
type CodeRecord struct {
	Purpose     domain.CodePurpose
	PrincipalID string
	CodeHash    string
	Attempts    int
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// CodeRepository persists short-lived email verification codes in Redis,
// keyed by purpose and principal id. Storing a new code replaces the previous
// one, so verification always compares against the most recently issued code.
type CodeRepository struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewCodeRepository constructs a code repository with the provided Redis client and key prefix.
func NewCodeRepository(client *red.Client, keyPrefix string) *CodeRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultCodePrefix
	}

	return &CodeRepository{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// Store persists a code hash for the supplied purpose/principal with TTL.
func (r *CodeRepository) Store(ctx context.Context, purpose domain.CodePurpose, principalID, codeHash string, ttl time.Duration) (*CodeRecord, error) {
	principalID = strings.TrimSpace(principalID)
	codeHash = strings.TrimSpace(codeHash)

	switch {
	case purpose == "":
		return nil, errors.New("purpose is required")
	case principalID == "":
		return nil, errors.New("principal id is required")
	case codeHash == "":
		return nil, errors.New("code hash is required")
	case ttl <= 0:
		return nil, errors.New("ttl must be positive")
	}

	now := r.now().UTC()
	expiresAt := now.Add(ttl)
	key := r.key(purpose, principalID)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldCodeHash:  codeHash,
		fieldCreatedAt: strconv.FormatInt(now.Unix(), 10),
		fieldExpiresAt: strconv.FormatInt(expiresAt.Unix(), 10),
		fieldAttempts:  "0",
	})
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis store code: %w", err)
	}

	return &CodeRecord{
		Purpose:     purpose,
		PrincipalID: principalID,
		CodeHash:    codeHash,
		Attempts:    0,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}, nil
}

// Fetch retrieves the code record for the provided purpose and principal.
func (r *CodeRepository) Fetch(ctx context.Context, purpose domain.CodePurpose, principalID string) (*CodeRecord, error) {
	principalID = strings.TrimSpace(principalID)
	if purpose == "" || principalID == "" {
		return nil, errors.New("purpose and principal id are required")
	}

	key := r.key(purpose, principalID)
	values, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall code: %w", err)
	}
	if len(values) == 0 {
		return nil, repository.ErrNotFound
	}

	codeHash := strings.TrimSpace(values[fieldCodeHash])
	if codeHash == "" {
		return nil, repository.ErrNotFound
	}

	createdAt, err := parseUnix(values[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	expiresAt, err := parseUnix(values[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	attempts := 0
	if raw := values[fieldAttempts]; raw != "" {
		if v, convErr := strconv.Atoi(raw); convErr == nil {
			attempts = v
		}
	}

	return &CodeRecord{
		Purpose:     purpose,
		PrincipalID: principalID,
		CodeHash:    codeHash,
		Attempts:    attempts,
		CreatedAt:   createdAt,
		ExpiresAt:   expiresAt,
	}, nil
}

// IncrementAttempts increments the attempt counter for the code and returns the new value.
func (r *CodeRepository) IncrementAttempts(ctx context.Context, purpose domain.CodePurpose, principalID string) (int, error) {
	if _, err := r.Fetch(ctx, purpose, principalID); err != nil {
		return 0, err
	}

	count, err := r.client.HIncrBy(ctx, r.key(purpose, principalID), fieldAttempts, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hincrby code attempts: %w", err)
	}

	return int(count), nil
}

// Delete removes the code entry, enforcing single-use semantics.
func (r *CodeRepository) Delete(ctx context.Context, purpose domain.CodePurpose, principalID string) error {
	deleted, err := r.client.Del(ctx, r.key(purpose, strings.TrimSpace(principalID))).Result()
	if err != nil {
		return fmt.Errorf("redis delete code: %w", err)
	}
	if deleted == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// WithClock overrides the internal clock, used in tests.
func (r *CodeRepository) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

func (r *CodeRepository) key(purpose domain.CodePurpose, principalID string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, purpose, principalID)
}

func parseUnix(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(v, 0).UTC(), nil
}
