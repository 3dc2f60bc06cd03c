package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/logger"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/telemetry"
	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

var (
	// ErrRateLimited indicates the resend was denied by the attempt limiter.
	// The concrete error is a *RateLimitedError carrying the wait time.
	ErrRateLimited = errors.New("too many attempts")
	// ErrAlreadyVerified indicates the account's email is already confirmed.
	ErrAlreadyVerified = errors.New("email already verified")
)

// RateLimitedError is returned when the resend limiter denies an attempt.
// Reason is "blocked" for an armed block window and "cooldown" for the
// per-send spacing; RetryAfter is how long until the next attempt can succeed.
type RateLimitedError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts (%s), retry in %s", e.Reason, e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

const resendKeyPrefix = "verify-resend:"

// Limiter records outlive any single block so stale bookkeeping is still
// visible to the reset rule rather than silently vanishing mid-sequence.
const resendRecordTTL = 24 * time.Hour

// ResendOutcome reports a successful resend to the caller.
type ResendOutcome struct {
	Attempt           int
	AttemptsRemaining int
}

// VerificationService owns the email-confirmation flow: code resends behind a
// persistent attempt limiter, and confirmation of submitted codes.
//
// The limiter allows MaxSendAttempts successful sends per sequence with a
// fixed cooldown between them; the final allowed send arms a block window.
// Denied and failed sends never advance the count. A mutex guards the limiter
// record's read and write phases; the send itself runs outside the lock, and
// the post-send write re-reads the record so no increment is ever lost.
type VerificationService struct {
	profiles port.ProfileStore
	codes    port.CodeSender
	kv       port.KVStore
	events   port.EventPublisher
	metrics  *telemetry.Provider
	log      *zap.Logger
	now      func() time.Time

	mu sync.Mutex

	maxAttempts   int
	cooldown      time.Duration
	blockDuration time.Duration
}

// VerificationConfig bundles the limiter tunables.
type VerificationConfig struct {
	MaxSendAttempts int
	ResendCooldown  time.Duration
	BlockDuration   time.Duration
}

// NewVerificationService constructs the service.
func NewVerificationService(
	profiles port.ProfileStore,
	codes port.CodeSender,
	kv port.KVStore,
	events port.EventPublisher,
	metrics *telemetry.Provider,
	cfg VerificationConfig,
	log *zap.Logger,
) *VerificationService {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxSendAttempts <= 0 {
		cfg.MaxSendAttempts = 3
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = time.Minute
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 5 * time.Minute
	}

	return &VerificationService{
		profiles:      profiles,
		codes:         codes,
		kv:            kv,
		events:        events,
		metrics:       metrics,
		log:           log,
		now:           time.Now,
		maxAttempts:   cfg.MaxSendAttempts,
		cooldown:      cfg.ResendCooldown,
		blockDuration: cfg.BlockDuration,
	}
}

// WithClock overrides the internal clock, used in tests.
func (s *VerificationService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Resend sends a fresh confirmation code to the email, subject to the limiter.
// Decision order: an active block wins over everything; then the cooldown
// since the last successful send; a block that has fully elapsed resets the
// sequence on the next attempt instead of denying it. An address the limiter
// has never seen always gets its first send.
func (s *VerificationService) Resend(ctx context.Context, email string) (ResendOutcome, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ResendOutcome{}, fmt.Errorf("email is required")
	}

	if err := s.admitResend(ctx, email); err != nil {
		return ResendOutcome{}, err
	}

	profile, err := s.profiles.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ResendOutcome{}, ErrUserNotFound
		}
		return ResendOutcome{}, fmt.Errorf("load profile: %w", err)
	}
	if profile.Verified != nil && *profile.Verified {
		return ResendOutcome{}, ErrAlreadyVerified
	}

	result, err := s.codes.SendCode(ctx, profile.ID, email, profile.Username, domain.CodePurposeEmailConfirmation)
	if err != nil {
		s.countResend("send_failed")
		return ResendOutcome{}, fmt.Errorf("%w: %w", ErrCodeSendFailed, err)
	}
	if !result.Success {
		s.countResend("send_failed")
		return ResendOutcome{}, fmt.Errorf("%w: %s", ErrCodeSendFailed, result.Message)
	}

	record := s.recordSend(ctx, email)

	s.countResend("sent")
	s.publishEmailSent(ctx, profile.ID, email, record.Attempts)

	return ResendOutcome{
		Attempt:           record.Attempts,
		AttemptsRemaining: s.maxAttempts - record.Attempts,
	}, nil
}

// admitResend applies the limiter decision. The lock covers only the record
// read, not the profile lookup or the SMTP round-trip, so one slow send does
// not serialize every resend in the process.
func (s *VerificationService) admitResend(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	record, err := s.loadRecord(ctx, email)
	if err != nil {
		return err
	}

	switch {
	case record.Blocked(now):
		s.countResend("blocked")
		return &RateLimitedError{Reason: "blocked", RetryAfter: record.BlockedUntil.Sub(now)}

	case record.BlockedUntil != nil:
		// The block ran out; the next successful send starts a new sequence.
		return nil

	case record.Attempts > 0 && now.Sub(record.LastAttempt) < s.cooldown:
		s.countResend("cooldown")
		return &RateLimitedError{Reason: "cooldown", RetryAfter: s.cooldown - now.Sub(record.LastAttempt)}
	}

	return nil
}

// recordSend applies the increment for a code that already went out. The
// record is re-read under the lock so a concurrent resend that won the race
// is not overwritten with stale state.
func (s *VerificationService) recordSend(ctx context.Context, email string) domain.RateLimitRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	record, err := s.loadRecord(ctx, email)
	if err != nil {
		// Bookkeeping must not hide that the code was delivered.
		s.log.Error("reload resend limiter record",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err),
		)
		record = domain.RateLimitRecord{Email: email}
	}
	if record.BlockedUntil != nil && !record.Blocked(now) {
		record = domain.RateLimitRecord{Email: email}
	}

	record.Attempts++
	record.LastAttempt = now
	if record.Attempts >= s.maxAttempts {
		blockedUntil := now.Add(s.blockDuration)
		record.BlockedUntil = &blockedUntil
	}
	if err := s.saveRecord(ctx, email, record); err != nil {
		s.log.Error("persist resend limiter record",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err),
		)
	}

	return record
}

// Confirm checks a submitted confirmation code and marks the profile verified.
func (s *VerificationService) Confirm(ctx context.Context, email, code string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	profile, err := s.profiles.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load profile: %w", err)
	}
	if profile.Verified != nil && *profile.Verified {
		return ErrAlreadyVerified
	}

	result, err := s.codes.VerifyCode(ctx, profile.ID, code, domain.CodePurposeEmailConfirmation)
	if err != nil {
		return fmt.Errorf("verify confirmation code: %w", err)
	}
	if !result.Success {
		return ErrIncorrectCode
	}

	if err := s.profiles.SetVerified(ctx, profile.ID, true); err != nil {
		return fmt.Errorf("mark profile verified: %w", err)
	}

	s.log.Info("email verified", zap.String("user_id", profile.ID))

	return nil
}

func (s *VerificationService) loadRecord(ctx context.Context, email string) (domain.RateLimitRecord, error) {
	raw, err := s.kv.Get(ctx, resendKeyPrefix+email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.RateLimitRecord{Email: email}, nil
		}
		return domain.RateLimitRecord{}, fmt.Errorf("load limiter record: %w", err)
	}

	var record domain.RateLimitRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		// A corrupt record is discarded rather than wedging the address forever.
		s.log.Warn("discarding malformed limiter record",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err),
		)
		return domain.RateLimitRecord{Email: email}, nil
	}
	return record, nil
}

func (s *VerificationService) saveRecord(ctx context.Context, email string, record domain.RateLimitRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode limiter record: %w", err)
	}
	return s.kv.Set(ctx, resendKeyPrefix+email, raw, resendRecordTTL)
}

func (s *VerificationService) countResend(result string) {
	if s.metrics != nil {
		s.metrics.CountVerificationResend(result)
	}
}

func (s *VerificationService) publishEmailSent(ctx context.Context, userID, email string, attempt int) {
	if s.events == nil {
		return
	}
	event := domain.VerificationEmailSentEvent{
		EventID:     uuid.NewString(),
		UserID:      userID,
		MaskedEmail: logger.MaskEmail(email),
		Purpose:     string(domain.CodePurposeEmailConfirmation),
		Attempt:     attempt,
		SentAt:      s.now().UTC(),
	}
	if err := s.events.PublishVerificationEmailSent(ctx, event); err != nil {
		s.log.Warn("publish verification email sent event", zap.Error(err))
	}
}
