package domain

import "time"

// ChallengeState enumerates the states of a single login attempt as it moves
// through second-factor verification.
type ChallengeState string

const (
	ChallengePrimaryAuth           ChallengeState = "primary_auth"
	ChallengeAwaitingMethodCheck   ChallengeState = "awaiting_method_check"
	ChallengeAwaitingAuthenticator ChallengeState = "awaiting_authenticator_code"
	ChallengeAwaitingEmailCode     ChallengeState = "awaiting_email_code"
	ChallengeVerified              ChallengeState = "verified"
	ChallengeFailed                ChallengeState = "failed"
)

// LoginChallenge captures one login attempt that passed the password check and
// is awaiting second-factor verification. The principal and provider session
// are parked on the challenge until it verifies; an incorrect code leaves the
// challenge re-enterable, so the user retries without restarting primary auth.
type LoginChallenge struct {
	ID             string
	State          ChallengeState
	Method         TwoFactorMethod
	Principal      Principal
	Session        ProviderSession
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastCodeSentAt *time.Time
}

// Expired reports whether the challenge has outlived its window.
func (c LoginChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Terminal reports whether the challenge reached an end state.
func (c LoginChallenge) Terminal() bool {
	return c.State == ChallengeVerified || c.State == ChallengeFailed
}
