package domain

import "time"

// RateLimitRecord is the persisted attempt/cooldown/block bookkeeping for the
// verification-resend action, keyed by the target email address. Attempts only
// grows within a limiting window; it resets to zero only after the block window
// has fully elapsed and a fresh attempt is made. The record is advisory: the
// store it lives in can be cleared by the client, so the server keeps its own
// copy of the same record and neither is a security boundary.
type RateLimitRecord struct {
	Email        string     `json:"email"`
	Attempts     int        `json:"attempts"`
	LastAttempt  time.Time  `json:"last_attempt"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

// Blocked reports whether the record carries an active block at the given instant.
func (r RateLimitRecord) Blocked(now time.Time) bool {
	return r.BlockedUntil != nil && r.BlockedUntil.After(now)
}

// PendingRegistrationIdentity records whose email a verification-pending view
// belongs to. Multiple navigation paths (fresh registration, login redirect,
// referral deep-link) can populate the same view; the first fresh writer wins
// so one user's email never leaks into another's pending state.
type PendingRegistrationIdentity struct {
	Email     string    `json:"email"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Fresh reports whether the record is still inside the freshness window.
func (p PendingRegistrationIdentity) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(p.CreatedAt) < window
}

// Pending-identity sources. No source outranks another: the first fresh writer wins.
const (
	PendingSourceRegistration  = "registration"
	PendingSourceLoginRedirect = "login_redirect"
	PendingSourceReferral      = "referral"
)

// CodePurpose scopes a stored one-time email code to the flow that issued it.
type CodePurpose string

const (
	// CodePurposeEmailConfirmation guards the account email confirmation flow.
	CodePurposeEmailConfirmation CodePurpose = "email_confirmation"
	// CodePurposeTwoFactor guards the email second-factor flow.
	CodePurposeTwoFactor CodePurpose = "twofactor_email"
	// CodePurposePasswordReset guards the password recovery flow.
	CodePurposePasswordReset CodePurpose = "password_reset"
)
