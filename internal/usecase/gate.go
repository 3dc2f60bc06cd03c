package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/logger"
	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

// ContinuationDecision is the outcome of the post-authentication gate.
type ContinuationDecision string

const (
	// ContinuationProceed lets the session continue into the application.
	ContinuationProceed ContinuationDecision = "proceed"
	// ContinuationPendingVerification parks the session on the
	// verification-pending flow until the email is confirmed.
	ContinuationPendingVerification ContinuationDecision = "pending_verification"
)

const pendingIdentityKey = "pending-identity"

// ContinuationGate decides, after any successful authentication, whether the
// session continues or is parked pending email verification. Every entry path
// that yields a session runs the identical check: an explicit false on the
// profile's verified flag parks the session; true or an absent flag proceeds,
// so accounts that predate the flag are never locked out.
//
// The gate also holds the pending-registration identity: one record under a
// fixed key telling the verification-pending flow whose email it is showing.
// While an existing record is fresh the first writer wins, so a referral
// deep-link opened in the middle of someone else's registration cannot swap
// in a different address.
type ContinuationGate struct {
	profiles  port.ProfileStore
	kv        port.KVStore
	freshness time.Duration
	log       *zap.Logger
	now       func() time.Time
}

// NewContinuationGate constructs the gate. freshness bounds how long a
// pending-identity record stays authoritative.
func NewContinuationGate(profiles port.ProfileStore, kv port.KVStore, freshness time.Duration, log *zap.Logger) *ContinuationGate {
	if log == nil {
		log = zap.NewNop()
	}
	if freshness <= 0 {
		freshness = 15 * time.Minute
	}
	return &ContinuationGate{
		profiles:  profiles,
		kv:        kv,
		freshness: freshness,
		log:       log,
		now:       time.Now,
	}
}

// WithClock overrides the internal clock, used in tests.
func (g *ContinuationGate) WithClock(clock func() time.Time) {
	if clock != nil {
		g.now = clock
	}
}

// Decide runs the verification gate for an authenticated principal.
func (g *ContinuationGate) Decide(ctx context.Context, principal domain.Principal) (ContinuationDecision, error) {
	profile, err := g.profiles.GetByID(ctx, principal.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrProfileMissing
		}
		return "", fmt.Errorf("load profile: %w", err)
	}

	if profile.Verified != nil && !*profile.Verified {
		return ContinuationPendingVerification, nil
	}
	return ContinuationProceed, nil
}

// RecordPendingIdentity stores whose email the verification-pending flow
// belongs to. When a fresh record already exists the write is a no-op and the
// existing record is returned; a stale record is replaced. Sources do not
// outrank each other.
func (g *ContinuationGate) RecordPendingIdentity(ctx context.Context, email, source string) (domain.PendingRegistrationIdentity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.PendingRegistrationIdentity{}, fmt.Errorf("email is required")
	}

	record := domain.PendingRegistrationIdentity{
		Email:     email,
		Source:    source,
		CreatedAt: g.now().UTC(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return domain.PendingRegistrationIdentity{}, fmt.Errorf("encode pending identity: %w", err)
	}

	stored, err := g.kv.SetNX(ctx, pendingIdentityKey, raw, g.freshness)
	if err != nil {
		return domain.PendingRegistrationIdentity{}, fmt.Errorf("store pending identity: %w", err)
	}
	if stored {
		return record, nil
	}

	existing, err := g.loadPendingIdentity(ctx)
	if err != nil {
		return domain.PendingRegistrationIdentity{}, err
	}
	if existing != nil && existing.Fresh(g.now(), g.freshness) {
		if existing.Email != email {
			g.log.Info("pending identity held by earlier writer",
				zap.String("held_for", logger.MaskEmail(existing.Email)),
				zap.String("rejected", logger.MaskEmail(email)),
				zap.String("source", source),
			)
		}
		return *existing, nil
	}

	// The stored record went stale between SetNX and the read; replace it.
	if err := g.kv.Set(ctx, pendingIdentityKey, raw, g.freshness); err != nil {
		return domain.PendingRegistrationIdentity{}, fmt.Errorf("store pending identity: %w", err)
	}
	return record, nil
}

// PendingIdentity returns the current pending-identity record, or nil when
// none exists. A stale record is discarded, never returned.
func (g *ContinuationGate) PendingIdentity(ctx context.Context) (*domain.PendingRegistrationIdentity, error) {
	record, err := g.loadPendingIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	if !record.Fresh(g.now(), g.freshness) {
		if err := g.kv.Delete(ctx, pendingIdentityKey); err != nil {
			g.log.Warn("delete stale pending identity", zap.Error(err))
		}
		return nil, nil
	}
	return record, nil
}

// ClearPendingIdentity removes the record, e.g. after verification completes.
func (g *ContinuationGate) ClearPendingIdentity(ctx context.Context) error {
	if err := g.kv.Delete(ctx, pendingIdentityKey); err != nil {
		return fmt.Errorf("clear pending identity: %w", err)
	}
	return nil
}

func (g *ContinuationGate) loadPendingIdentity(ctx context.Context) (*domain.PendingRegistrationIdentity, error) {
	raw, err := g.kv.Get(ctx, pendingIdentityKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load pending identity: %w", err)
	}

	var record domain.PendingRegistrationIdentity
	if err := json.Unmarshal(raw, &record); err != nil {
		g.log.Warn("discarding malformed pending identity", zap.Error(err))
		return nil, nil
	}
	return &record, nil
}
