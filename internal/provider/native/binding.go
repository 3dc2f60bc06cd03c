package native

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/logger"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/security"
	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// userStore is the record access the binding needs from its Postgres store.
type userStore interface {
	Create(ctx context.Context, user UserRecord) error
	GetByID(ctx context.Context, id string) (*UserRecord, error)
	GetByEmail(ctx context.Context, email string) (*UserRecord, error)
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
}

// Binding is the first-party identity provider: Postgres-backed user records,
// argon2id password hashes, signed JWT sessions.
type Binding struct {
	users       userStore
	signer      *sessionSigner
	revocations port.RevocationStore
	codes       port.CodeSender
	log         *zap.Logger
	now         func() time.Time

	mu        sync.RWMutex
	callbacks []port.AuthStateCallback
}

// NewBinding constructs the native binding.
func NewBinding(users userStore, secret string, sessionTTL time.Duration, revocations port.RevocationStore, codes port.CodeSender, log *zap.Logger) (*Binding, error) {
	signer, err := newSessionSigner(secret, sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("native binding: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Binding{
		users:       users,
		signer:      signer,
		revocations: revocations,
		codes:       codes,
		log:         log,
		now:         time.Now,
	}, nil
}

// WithClock overrides the internal clock, used in tests.
func (b *Binding) WithClock(clock func() time.Time) {
	if clock != nil {
		b.now = clock
		b.signer.now = clock
	}
}

// Name identifies the binding.
func (b *Binding) Name() domain.BindingName {
	return domain.BindingNative
}

// Register creates a user record and opens a session for it.
func (b *Binding) Register(ctx context.Context, input port.RegisterInput) (domain.Principal, domain.ProviderSession, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if !emailPattern.MatchString(email) {
		return domain.Principal{}, domain.ProviderSession{}, port.ErrBindingInvalidEmail
	}

	validator := security.NewPasswordValidatorWithContext(email, input.Username)
	if err := validator.Validate(input.Password); err != nil {
		return domain.Principal{}, domain.ProviderSession{}, port.ErrBindingWeakPassword
	}

	if _, err := b.users.GetByEmail(ctx, email); err == nil {
		return domain.Principal{}, domain.ProviderSession{}, port.ErrBindingEmailInUse
	} else if !errors.Is(err, repository.ErrNotFound) {
		return domain.Principal{}, domain.ProviderSession{}, fmt.Errorf("%w: %w", port.ErrBindingUnavailable, err)
	}

	hash, err := security.HashPassword(input.Password)
	if err != nil {
		return domain.Principal{}, domain.ProviderSession{}, fmt.Errorf("hash password: %w", err)
	}

	now := b.now().UTC()
	user := UserRecord{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     strings.TrimSpace(input.Username),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := b.users.Create(ctx, user); err != nil {
		return domain.Principal{}, domain.ProviderSession{}, fmt.Errorf("%w: %w", port.ErrBindingUnavailable, err)
	}

	session, err := b.signer.Issue(user.ID, user.Email)
	if err != nil {
		return domain.Principal{}, domain.ProviderSession{}, err
	}

	principal := b.principalFor(user)
	b.emit(ctx, domain.AuthStateEvent{
		Kind:       domain.AuthStateSignedIn,
		Principal:  &principal,
		Session:    &session,
		OccurredAt: now,
	})

	return principal, session, nil
}

// SignInWithPassword verifies the credentials and opens a session.
func (b *Binding) SignInWithPassword(ctx context.Context, email, password string) (domain.Principal, domain.ProviderSession, error) {
	user, err := b.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Principal{}, domain.ProviderSession{}, port.ErrBindingInvalidCredentials
		}
		return domain.Principal{}, domain.ProviderSession{}, fmt.Errorf("%w: %w", port.ErrBindingUnavailable, err)
	}

	ok, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return domain.Principal{}, domain.ProviderSession{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return domain.Principal{}, domain.ProviderSession{}, port.ErrBindingInvalidCredentials
	}

	// A fresh password sign-in supersedes any standing revocation mark.
	if b.revocations != nil {
		if err := b.revocations.ClearRevoked(ctx, user.ID); err != nil {
			b.log.Warn("failed to clear revocation mark",
				zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	session, err := b.signer.Issue(user.ID, user.Email)
	if err != nil {
		return domain.Principal{}, domain.ProviderSession{}, err
	}

	principal := b.principalFor(*user)
	b.emit(ctx, domain.AuthStateEvent{
		Kind:       domain.AuthStateSignedIn,
		Principal:  &principal,
		Session:    &session,
		OccurredAt: b.now().UTC(),
	})

	return principal, session, nil
}

// SignOut revokes every outstanding session for the token's user.
func (b *Binding) SignOut(ctx context.Context, session domain.ProviderSession) error {
	claims, err := b.signer.Parse(session.Material)
	if err != nil {
		// An expired token has nothing live to revoke.
		return nil
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl > 0 && b.revocations != nil {
		if err := b.revocations.MarkRevoked(ctx, claims.Subject, "signed_out", ttl); err != nil {
			return fmt.Errorf("revoke session: %w", err)
		}
	}

	b.emit(ctx, domain.AuthStateEvent{
		Kind:       domain.AuthStateSignedOut,
		OccurredAt: b.now().UTC(),
	})

	return nil
}

// ResetPasswordForEmail sends a recovery code to the address if it is registered.
// An unknown address is not an error; the caller cannot probe for accounts.
func (b *Binding) ResetPasswordForEmail(ctx context.Context, email string) error {
	user, err := b.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %w", port.ErrBindingUnavailable, err)
	}

	if b.codes == nil {
		return nil
	}

	result, err := b.codes.SendCode(ctx, user.ID, user.Email, user.Username, domain.CodePurposePasswordReset)
	if err != nil {
		return fmt.Errorf("send reset code: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("%w: %s", port.ErrBindingUnavailable, result.Message)
	}

	b.log.Info("password reset code issued",
		zap.String("user_id", user.ID),
		zap.String("email", logger.MaskEmail(user.Email)),
	)
	return nil
}

// UpdatePassword replaces the password of the session's user.
func (b *Binding) UpdatePassword(ctx context.Context, session domain.ProviderSession, newPassword string) error {
	claims, err := b.signer.Parse(session.Material)
	if err != nil {
		return err
	}
	if err := b.ensureNotRevoked(ctx, claims.Subject); err != nil {
		return err
	}

	validator := security.NewPasswordValidatorWithContext(claims.Email)
	if err := validator.Validate(newPassword); err != nil {
		return port.ErrBindingWeakPassword
	}

	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := b.users.UpdatePasswordHash(ctx, claims.Subject, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return port.ErrBindingSessionExpired
		}
		return fmt.Errorf("%w: %w", port.ErrBindingUnavailable, err)
	}

	return nil
}

// CurrentUser resolves the session token back to its principal.
func (b *Binding) CurrentUser(ctx context.Context, session domain.ProviderSession) (domain.Principal, error) {
	claims, err := b.signer.Parse(session.Material)
	if err != nil {
		return domain.Principal{}, err
	}
	if err := b.ensureNotRevoked(ctx, claims.Subject); err != nil {
		return domain.Principal{}, err
	}

	user, err := b.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Principal{}, port.ErrBindingSessionExpired
		}
		return domain.Principal{}, fmt.Errorf("%w: %w", port.ErrBindingUnavailable, err)
	}

	return b.principalFor(*user), nil
}

// UserExists reports whether the email has a user record.
func (b *Binding) UserExists(ctx context.Context, email string) (bool, error) {
	_, err := b.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", port.ErrBindingUnavailable, err)
	}
	return true, nil
}

// OnAuthStateChange registers a callback invoked for every session change.
func (b *Binding) OnAuthStateChange(cb port.AuthStateCallback) {
	if cb == nil {
		return
	}
	b.mu.Lock()
	b.callbacks = append(b.callbacks, cb)
	b.mu.Unlock()
}

func (b *Binding) emit(ctx context.Context, event domain.AuthStateEvent) {
	b.mu.RLock()
	callbacks := make([]port.AuthStateCallback, len(b.callbacks))
	copy(callbacks, b.callbacks)
	b.mu.RUnlock()

	for _, cb := range callbacks {
		cb(ctx, event)
	}
}

func (b *Binding) ensureNotRevoked(ctx context.Context, userID string) error {
	if b.revocations == nil {
		return nil
	}
	revoked, err := b.revocations.IsRevoked(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %w", port.ErrBindingUnavailable, err)
	}
	if revoked {
		return port.ErrBindingSessionExpired
	}
	return nil
}

func (b *Binding) principalFor(user UserRecord) domain.Principal {
	verified := user.EmailVerified
	return domain.Principal{
		ID:            user.ID,
		Email:         user.Email,
		Username:      user.Username,
		EmailVerified: &verified,
		Binding:       domain.BindingNative,
	}
}

var _ port.IdentityBinding = (*Binding)(nil)
