package port

import (
	"context"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
)

// RegisterInput carries the attributes required to create an identity record.
type RegisterInput struct {
	Username   string
	Email      string
	Password   string
	ReferralID string
}

// AuthStateCallback observes session changes emitted by a binding.
type AuthStateCallback func(ctx context.Context, event domain.AuthStateEvent)

// IdentityBinding is the contract each of the two identity providers implements.
// Each binding owns its session/token model and user-record schema; callers
// treat ProviderSession material as opaque.
type IdentityBinding interface {
	Name() domain.BindingName

	Register(ctx context.Context, input RegisterInput) (domain.Principal, domain.ProviderSession, error)
	SignInWithPassword(ctx context.Context, email, password string) (domain.Principal, domain.ProviderSession, error)
	SignOut(ctx context.Context, session domain.ProviderSession) error
	ResetPasswordForEmail(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, session domain.ProviderSession, newPassword string) error
	CurrentUser(ctx context.Context, session domain.ProviderSession) (domain.Principal, error)
	UserExists(ctx context.Context, email string) (bool, error)

	// OnAuthStateChange registers a callback invoked for every session change
	// the binding observes. Callbacks run synchronously in registration order.
	OnAuthStateChange(cb AuthStateCallback)
}

// Binding-level failures, normalized by each binding before they cross the
// adapter boundary. Provider-specific error shapes never escape a binding.
var (
	ErrBindingInvalidCredentials = bindingError("invalid credentials")
	ErrBindingEmailInUse         = bindingError("email already registered")
	ErrBindingInvalidEmail       = bindingError("email is not valid")
	ErrBindingWeakPassword       = bindingError("password too weak")
	ErrBindingSessionExpired     = bindingError("session expired")
	ErrBindingUnavailable        = bindingError("identity provider unavailable")
)

type bindingError string

func (e bindingError) Error() string { return string(e) }
