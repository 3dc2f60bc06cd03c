package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// UserSummary describes a minimal view of an authenticated user returned by the API.
type UserSummary struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Username      string `json:"username,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	Binding       string `json:"binding"`
}

func newUserSummary(principal domain.Principal) UserSummary {
	return UserSummary{
		ID:            principal.ID,
		Email:         principal.Email,
		Username:      principal.Username,
		EmailVerified: principal.EmailVerified,
		Binding:       string(principal.Binding),
	}
}

// SessionPayload carries opaque session material back to the client. The
// access token is only meaningful to the binding that issued it.
type SessionPayload struct {
	Binding     string    `json:"binding"`
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func newSessionPayload(session domain.ProviderSession) SessionPayload {
	return SessionPayload{
		Binding:     string(session.Binding),
		AccessToken: string(session.Material),
		TokenType:   "Bearer",
		ExpiresAt:   session.ExpiresAt,
	}
}

// RegisterRequest defines the account registration payload.
type RegisterRequest struct {
	Username   string `json:"username" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=8"`
	ReferralID string `json:"referral_id"`
}

// RegisterResponse contains registration results and the next step.
type RegisterResponse struct {
	User         UserSummary    `json:"user"`
	Session      SessionPayload `json:"session"`
	Continuation string         `json:"continuation"`
}

// LoginRequest defines the payload for the login endpoint. Identifier accepts
// an email address or a username.
type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// LoginResponse describes the response for a login that completed without a
// second factor, or after the second factor verified.
type LoginResponse struct {
	User         UserSummary    `json:"user"`
	Session      SessionPayload `json:"session"`
	Continuation string         `json:"continuation"`
}

// TwoFactorRequiredResponse is returned when the password check passed but the
// account requires a second factor. No session material is included.
type TwoFactorRequiredResponse struct {
	Status      string `json:"status"`
	ChallengeID string `json:"challenge_id"`
	Method      string `json:"method"`
}

// TwoFactorVerifyRequest submits a code against an open login challenge.
type TwoFactorVerifyRequest struct {
	ChallengeID string `json:"challenge_id" binding:"required"`
	Code        string `json:"code" binding:"required"`
}

// TwoFactorResendRequest asks for a fresh email code on an open challenge.
type TwoFactorResendRequest struct {
	ChallengeID string `json:"challenge_id" binding:"required"`
}

// TwoFactorEnrollRequest selects the second-factor method to enroll.
type TwoFactorEnrollRequest struct {
	Method string `json:"method" binding:"required"`
}

// TwoFactorEnrollResponse returns authenticator provisioning material. The
// secret is shown exactly once.
type TwoFactorEnrollResponse struct {
	Method       string `json:"method"`
	Secret       string `json:"secret,omitempty"`
	ProvisionURI string `json:"provision_uri,omitempty"`
}

// TwoFactorActivateRequest confirms authenticator enrollment with a live code.
type TwoFactorActivateRequest struct {
	Code string `json:"code" binding:"required"`
}

// BackupCodesResponse returns plaintext backup codes exactly once.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// TwoFactorStatusResponse describes the caller's second-factor configuration.
type TwoFactorStatusResponse struct {
	Enabled           bool   `json:"enabled"`
	Method            string `json:"method,omitempty"`
	BackupCodesLeft   int    `json:"backup_codes_left,omitempty"`
	ActivatedAt       string `json:"activated_at,omitempty"`
	PendingActivation bool   `json:"pending_activation,omitempty"`
}

// VerificationResendRequest asks for a fresh confirmation code.
type VerificationResendRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// VerificationResendResponse reports a successful resend.
type VerificationResendResponse struct {
	Message           string `json:"message"`
	Attempt           int    `json:"attempt"`
	AttemptsRemaining int    `json:"attempts_remaining"`
}

// VerificationConfirmRequest submits a confirmation code for an email.
type VerificationConfirmRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required"`
}

// PendingIdentityRequest records whose email the verification-pending view shows.
type PendingIdentityRequest struct {
	Email  string `json:"email" binding:"required,email"`
	Source string `json:"source"`
}

// PendingIdentityResponse returns the authoritative pending-identity record.
type PendingIdentityResponse struct {
	Email     string    `json:"email"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// PasswordResetRequest starts the password recovery flow.
type PasswordResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// PasswordUpdateRequest replaces the authenticated user's password.
type PasswordUpdateRequest struct {
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports readiness per dependency.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
