package domain

import "time"

// TwoFactorMethod enumerates the supported second-factor mechanisms.
type TwoFactorMethod string

const (
	// TwoFactorAuthenticator verifies time-based codes from an authenticator app.
	TwoFactorAuthenticator TwoFactorMethod = "authenticator"
	// TwoFactorEmail verifies one-time codes delivered to the account email.
	TwoFactorEmail TwoFactorMethod = "email"
)

// Valid reports whether the method is one of the supported values.
func (m TwoFactorMethod) Valid() bool {
	return m == TwoFactorAuthenticator || m == TwoFactorEmail
}

// TwoFactorStatus is the per-user second-factor configuration.
// Secret is opaque base32 material for the authenticator method.
// BackupCodeHashes holds sha256 hashes of the unused backup codes; a
// consumed code is removed from the set and never restored.
type TwoFactorStatus struct {
	UserID           string
	Enabled          bool
	Method           TwoFactorMethod
	Secret           string
	BackupCodeHashes []string
	EnrolledAt       time.Time
	ActivatedAt      *time.Time
	UpdatedAt        time.Time
}
