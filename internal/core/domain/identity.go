package domain

import "time"

// BindingName identifies one of the two identity providers behind the auth adapter.
type BindingName string

const (
	// BindingNative is the first-party identity store (Postgres-backed, JWT sessions).
	BindingNative BindingName = "native"
	// BindingGateway is the hosted identity API the platform is migrating away from.
	BindingGateway BindingName = "gateway"
)

// Principal is the provider-agnostic authenticated identity returned by the auth adapter.
type Principal struct {
	ID            string
	Email         string
	Username      string
	EmailVerified *bool
	Binding       BindingName
	// Raw carries the provider-specific payload. The adapter never interprets it.
	Raw map[string]any
}

// ProviderSession holds binding-specific session material. Only the binding that
// created it may inspect Material; the adapter hands it back verbatim.
type ProviderSession struct {
	Binding   BindingName
	Material  []byte
	ExpiresAt time.Time
}

// Profile mirrors the persisted representation in the profiles table.
// Verified is a pointer: rows created before the verification flag existed
// carry nil and are treated as verified.
type Profile struct {
	ID        string
	Email     string
	Username  string
	Verified  *bool
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuthStateKind enumerates the session changes a binding can report.
type AuthStateKind string

const (
	AuthStateSignedIn  AuthStateKind = "signed_in"
	AuthStateRefreshed AuthStateKind = "refreshed"
	AuthStateSignedOut AuthStateKind = "signed_out"
)

// AuthStateEvent is emitted by a binding whenever its session changes.
type AuthStateEvent struct {
	Kind       AuthStateKind
	Principal  *Principal
	Session    *ProviderSession
	OccurredAt time.Time
}
