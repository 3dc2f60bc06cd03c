package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/logger"
	"github.com/leonlurk/broker-agm-sub002/internal/repository"
)

var (
	// ErrInvalidCredentials indicates the provided identifier or password are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUsernameTaken indicates the username is already registered.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrEmailInUse indicates the email is already registered.
	ErrEmailInUse = errors.New("email already in use")
	// ErrWeakPassword indicates the password failed the strength policy.
	ErrWeakPassword = errors.New("password too weak")
	// ErrInvalidEmail indicates the email address is malformed.
	ErrInvalidEmail = errors.New("email is not valid")
	// ErrUserNotFound indicates no account matches the identifier.
	ErrUserNotFound = errors.New("user not found")
	// ErrAmbiguousIdentifier indicates more than one profile carries the username.
	// This is a data-integrity condition that must never occur, defended against anyway.
	ErrAmbiguousIdentifier = errors.New("identifier matches more than one account")
	// ErrProfileMissing indicates an authenticated id has no profile row. The
	// session is force-signed-out before this error is returned.
	ErrProfileMissing = errors.New("authenticated user has no profile")
	// ErrSessionExpired indicates the session material is no longer valid.
	ErrSessionExpired = errors.New("session expired")
	// ErrProvider is the catch-all for unexpected identity-provider failures.
	ErrProvider = errors.New("identity provider error")
)

// AuthService is the provider-agnostic adapter over the two identity bindings.
// Every operation resolves its binding from configuration, except Login, which
// is hard-pinned to one binding irrespective of configuration: credentials are
// migrated ahead of the rest of the account data, so sign-in must not follow
// the routing default. The asymmetry is intentional.
type AuthService struct {
	bindings       map[domain.BindingName]port.IdentityBinding
	defaultBinding domain.BindingName
	loginBinding   domain.BindingName
	profiles       port.ProfileStore
	events         port.EventPublisher
	log            *zap.Logger
	now            func() time.Time
}

// NewAuthService constructs the adapter over the provided bindings.
func NewAuthService(
	bindings []port.IdentityBinding,
	defaultBinding domain.BindingName,
	loginBinding domain.BindingName,
	profiles port.ProfileStore,
	events port.EventPublisher,
	log *zap.Logger,
) (*AuthService, error) {
	if len(bindings) == 0 {
		return nil, fmt.Errorf("at least one identity binding is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	indexed := make(map[domain.BindingName]port.IdentityBinding, len(bindings))
	for _, binding := range bindings {
		indexed[binding.Name()] = binding
	}
	if _, ok := indexed[defaultBinding]; !ok {
		return nil, fmt.Errorf("default binding %q is not registered", defaultBinding)
	}
	if _, ok := indexed[loginBinding]; !ok {
		return nil, fmt.Errorf("login binding %q is not registered", loginBinding)
	}

	return &AuthService{
		bindings:       indexed,
		defaultBinding: defaultBinding,
		loginBinding:   loginBinding,
		profiles:       profiles,
		events:         events,
		log:            log,
		now:            time.Now,
	}, nil
}

// WithClock overrides the internal clock, used in tests.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Register creates an identity and its profile row. A profile-create failure
// after identity success is logged, not returned: the account can still
// authenticate and complete its profile later.
func (s *AuthService) Register(ctx context.Context, username, email, password, referralID string) (domain.Principal, domain.ProviderSession, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.Principal{}, domain.ProviderSession{}, fmt.Errorf("username is required")
	}

	matches, err := s.profiles.FindByUsername(ctx, username)
	if err != nil {
		return domain.Principal{}, domain.ProviderSession{}, fmt.Errorf("%w: lookup username: %w", ErrProvider, err)
	}
	if len(matches) > 0 {
		return domain.Principal{}, domain.ProviderSession{}, ErrUsernameTaken
	}

	binding := s.bindings[s.defaultBinding]
	principal, session, err := binding.Register(ctx, port.RegisterInput{
		Username:   username,
		Email:      email,
		Password:   password,
		ReferralID: referralID,
	})
	if err != nil {
		return domain.Principal{}, domain.ProviderSession{}, mapBindingError(err)
	}

	now := s.now().UTC()
	profile := domain.Profile{
		ID:        principal.ID,
		Email:     principal.Email,
		Username:  username,
		Verified:  boolPtr(false),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if referralID != "" {
		profile.Metadata = map[string]any{"referral_id": referralID}
	}

	if err := s.profiles.Create(ctx, profile); err != nil {
		// Identity creation is not rolled back: the user can authenticate and
		// complete the profile later.
		s.log.Warn("profile creation failed after identity creation",
			zap.String("user_id", principal.ID),
			zap.String("email", logger.MaskEmail(principal.Email)),
			zap.Error(err),
		)
	}

	if s.events != nil {
		event := domain.UserRegisteredEvent{
			EventID:      uuid.NewString(),
			UserID:       principal.ID,
			Username:     username,
			Email:        principal.Email,
			Binding:      string(binding.Name()),
			RegisteredAt: now,
		}
		if referralID != "" {
			event.ReferralID = &referralID
		}
		if err := s.events.PublishUserRegistered(ctx, event); err != nil {
			s.log.Warn("publish user registered event", zap.Error(err))
		}
	}

	return principal, session, nil
}

// Login authenticates by email or username. A username is resolved to an email
// through the profile store before any credential check; after the credential
// check, the authenticated id must exist in the profile store or the session
// is signed out and ErrProfileMissing returned.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (domain.Principal, domain.ProviderSession, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return domain.Principal{}, domain.ProviderSession{}, fmt.Errorf("identifier is required")
	}
	if password == "" {
		return domain.Principal{}, domain.ProviderSession{}, fmt.Errorf("password is required")
	}

	email := identifier
	if !strings.Contains(identifier, "@") {
		resolved, err := s.resolveUsername(ctx, identifier)
		if err != nil {
			s.publishLoginDenied(ctx, identifier, err)
			return domain.Principal{}, domain.ProviderSession{}, err
		}
		email = resolved
	}

	binding := s.bindings[s.loginBinding]
	principal, session, err := binding.SignInWithPassword(ctx, email, password)
	if err != nil {
		mapped := mapBindingError(err)
		s.publishLoginDenied(ctx, email, mapped)
		return domain.Principal{}, domain.ProviderSession{}, mapped
	}

	if err := s.ensureProfile(ctx, binding, principal, session); err != nil {
		s.publishLoginDenied(ctx, email, err)
		return domain.Principal{}, domain.ProviderSession{}, err
	}

	if s.events != nil {
		event := domain.LoginSucceededEvent{
			EventID:    uuid.NewString(),
			UserID:     principal.ID,
			Binding:    string(binding.Name()),
			LoggedInAt: s.now().UTC(),
		}
		if err := s.events.PublishLoginSucceeded(ctx, event); err != nil {
			s.log.Warn("publish login succeeded event", zap.Error(err))
		}
	}

	return principal, session, nil
}

// Logout ends the session with the binding that created it.
func (s *AuthService) Logout(ctx context.Context, session domain.ProviderSession) error {
	binding, err := s.bindingFor(session)
	if err != nil {
		return err
	}
	if err := binding.SignOut(ctx, session); err != nil {
		return mapBindingError(err)
	}
	return nil
}

// ResetPassword starts the password recovery flow for the email.
func (s *AuthService) ResetPassword(ctx context.Context, email string) error {
	if err := s.bindings[s.defaultBinding].ResetPasswordForEmail(ctx, email); err != nil {
		return mapBindingError(err)
	}
	return nil
}

// UpdatePassword replaces the password of the session's user.
func (s *AuthService) UpdatePassword(ctx context.Context, session domain.ProviderSession, newPassword string) error {
	binding, err := s.bindingFor(session)
	if err != nil {
		return err
	}
	if err := binding.UpdatePassword(ctx, session, newPassword); err != nil {
		return mapBindingError(err)
	}
	return nil
}

// CurrentPrincipal resolves the session to its principal, applying the same
// profile post-check as Login.
func (s *AuthService) CurrentPrincipal(ctx context.Context, session domain.ProviderSession) (domain.Principal, error) {
	binding, err := s.bindingFor(session)
	if err != nil {
		return domain.Principal{}, err
	}

	principal, err := binding.CurrentUser(ctx, session)
	if err != nil {
		return domain.Principal{}, mapBindingError(err)
	}

	if err := s.ensureProfile(ctx, binding, principal, session); err != nil {
		return domain.Principal{}, err
	}

	return principal, nil
}

// UserExists reports whether the email is registered with the routed binding.
func (s *AuthService) UserExists(ctx context.Context, email string) (bool, error) {
	exists, err := s.bindings[s.defaultBinding].UserExists(ctx, email)
	if err != nil {
		return false, mapBindingError(err)
	}
	return exists, nil
}

// OnAuthStateChange registers the callback with every binding. The profile
// post-check is re-applied on each emitted change, so a session orphaned
// mid-life (profile deleted) is force-signed-out on the next observed change
// and the caller sees a signed_out event instead.
func (s *AuthService) OnAuthStateChange(cb port.AuthStateCallback) {
	if cb == nil {
		return
	}

	for _, binding := range s.bindings {
		binding := binding
		binding.OnAuthStateChange(func(ctx context.Context, event domain.AuthStateEvent) {
			if event.Principal == nil || event.Session == nil {
				cb(ctx, event)
				return
			}

			if err := s.ensureProfile(ctx, binding, *event.Principal, *event.Session); err != nil {
				cb(ctx, domain.AuthStateEvent{
					Kind:       domain.AuthStateSignedOut,
					OccurredAt: s.now().UTC(),
				})
				return
			}

			cb(ctx, event)
		})
	}
}

// resolveUsername maps a username onto its unique profile email.
func (s *AuthService) resolveUsername(ctx context.Context, username string) (string, error) {
	matches, err := s.profiles.FindByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("%w: resolve username: %w", ErrProvider, err)
	}

	switch len(matches) {
	case 0:
		return "", ErrUserNotFound
	case 1:
		return matches[0].Email, nil
	default:
		s.log.Error("username maps to multiple profiles",
			zap.String("username", username),
			zap.Int("matches", len(matches)),
		)
		return "", ErrAmbiguousIdentifier
	}
}

// ensureProfile is the mandatory post-check: an authenticated id must exist in
// the profile store; otherwise the session is signed out and the caller never
// observes a half-authenticated state.
func (s *AuthService) ensureProfile(ctx context.Context, binding port.IdentityBinding, principal domain.Principal, session domain.ProviderSession) error {
	_, err := s.profiles.GetByID(ctx, principal.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: profile lookup: %w", ErrProvider, err)
	}

	if signOutErr := binding.SignOut(ctx, session); signOutErr != nil {
		s.log.Warn("forced sign-out failed",
			zap.String("user_id", principal.ID),
			zap.Error(signOutErr),
		)
	}

	s.log.Warn("authenticated user has no profile, session signed out",
		zap.String("user_id", principal.ID),
		zap.String("email", logger.MaskEmail(principal.Email)),
	)

	if s.events != nil {
		event := domain.SessionRevokedEvent{
			EventID:   uuid.NewString(),
			UserID:    principal.ID,
			Reason:    "profile_missing",
			RevokedAt: s.now().UTC(),
		}
		if err := s.events.PublishSessionRevoked(ctx, event); err != nil {
			s.log.Warn("publish session revoked event", zap.Error(err))
		}
	}

	return ErrProfileMissing
}

func (s *AuthService) bindingFor(session domain.ProviderSession) (port.IdentityBinding, error) {
	name := session.Binding
	if name == "" {
		name = s.defaultBinding
	}
	binding, ok := s.bindings[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown binding %q", ErrProvider, name)
	}
	return binding, nil
}

func (s *AuthService) publishLoginDenied(ctx context.Context, identifier string, cause error) {
	if s.events == nil {
		return
	}

	event := domain.LoginDeniedEvent{
		EventID:    uuid.NewString(),
		Identifier: logger.MaskEmail(identifier),
		Reason:     deniedReason(cause),
		DeniedAt:   s.now().UTC(),
	}
	if err := s.events.PublishLoginDenied(ctx, event); err != nil {
		s.log.Warn("publish login denied event", zap.Error(err))
	}
}

func deniedReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrAmbiguousIdentifier):
		return "ambiguous_identifier"
	case errors.Is(err, ErrProfileMissing):
		return "profile_missing"
	default:
		return "provider_error"
	}
}

// mapBindingError normalizes binding-level failures onto the adapter taxonomy.
func mapBindingError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, port.ErrBindingInvalidCredentials):
		return ErrInvalidCredentials
	case errors.Is(err, port.ErrBindingEmailInUse):
		return ErrEmailInUse
	case errors.Is(err, port.ErrBindingInvalidEmail):
		return ErrInvalidEmail
	case errors.Is(err, port.ErrBindingWeakPassword):
		return ErrWeakPassword
	case errors.Is(err, port.ErrBindingSessionExpired):
		return ErrSessionExpired
	case errors.Is(err, port.ErrBindingUnavailable):
		return fmt.Errorf("%w: %w", ErrProvider, err)
	default:
		return fmt.Errorf("%w: %w", ErrProvider, err)
	}
}

func boolPtr(v bool) *bool {
	return &v
}
