package domain

import "time"

// UserRegisteredEvent represents the payload for auth.user.registered messages.
type UserRegisteredEvent struct {
	EventID      string
	UserID       string
	Username     string
	Email        string
	Binding      string
	ReferralID   *string
	RegisteredAt time.Time
	Metadata     map[string]any
}

// LoginSucceededEvent represents the payload for auth.login.succeeded messages.
type LoginSucceededEvent struct {
	EventID         string
	UserID          string
	Binding         string
	TwoFactorMethod *string
	LoggedInAt      time.Time
	Metadata        map[string]any
}

// LoginDeniedEvent represents the payload for auth.login.denied messages.
type LoginDeniedEvent struct {
	EventID    string
	Identifier string
	Reason     string
	DeniedAt   time.Time
	Metadata   map[string]any
}

// SessionRevokedEvent represents the payload for auth.session.revoked messages.
type SessionRevokedEvent struct {
	EventID   string
	UserID    string
	Reason    string
	RevokedAt time.Time
	Metadata  map[string]any
}

// VerificationEmailSentEvent represents the payload for auth.verification.email_sent messages.
type VerificationEmailSentEvent struct {
	EventID     string
	UserID      string
	MaskedEmail string
	Purpose     string
	Attempt     int
	SentAt      time.Time
	Metadata    map[string]any
}

// TwoFactorChangedEvent represents the payload for auth.twofactor.changed messages.
type TwoFactorChangedEvent struct {
	EventID   string
	UserID    string
	Enabled   bool
	Method    string
	ChangedAt time.Time
	Metadata  map[string]any
}

// ProfileDeletedEvent is consumed from the profile service; a deleted profile
// forces any live session for that user to sign out.
type ProfileDeletedEvent struct {
	EventID   string
	UserID    string
	DeletedAt time.Time
	Metadata  map[string]any
}
