package port

import (
	"context"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
)

// SendResult reports the outcome of a code delivery.
type SendResult struct {
	Success bool
	Message string
}

// VerifyResult reports the outcome of a code check. Expired is set when the
// stored code is past its validity window or no longer held, as opposed to a
// plain mismatch against a still-live code.
type VerifyResult struct {
	Success bool
	Expired bool
	Message string
}

// CodeSender issues and verifies short-lived 6-digit email codes. A code is
// bound to a principal id and a purpose, and is consumed exactly once: it is
// invalid after expiry or after a successful verification.
type CodeSender interface {
	SendCode(ctx context.Context, principalID, email, displayName string, purpose domain.CodePurpose) (SendResult, error)
	VerifyCode(ctx context.Context, principalID, code string, purpose domain.CodePurpose) (VerifyResult, error)
}
