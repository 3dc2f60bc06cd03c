package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/transport/http/middleware"
	"github.com/leonlurk/broker-agm-sub002/internal/usecase"
)

// VerificationHandler exposes the email-confirmation endpoints: limited code
// resends, code confirmation, and the pending-identity record behind the
// verification-pending view.
type VerificationHandler struct {
	verification *usecase.VerificationService
	gate         *usecase.ContinuationGate
}

// NewVerificationHandler constructs VerificationHandler.
func NewVerificationHandler(verification *usecase.VerificationService, gate *usecase.ContinuationGate) *VerificationHandler {
	return &VerificationHandler{
		verification: verification,
		gate:         gate,
	}
}

// RegisterRoutes binds verification routes.
func (h *VerificationHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/resend", h.resend)
	r.POST("/confirm", h.confirm)
	r.GET("/pending", h.pending)
	r.POST("/pending", h.recordPending)
}

// Resend godoc
// @Summary Resend the email confirmation code
// @Description Sends a fresh code, limited per address; repeated sends arm a temporary block.
// @Tags Verification
// @Accept json
// @Produce json
// @Param request body VerificationResendRequest true "Resend payload"
// @Success 200 {object} VerificationResendResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/v1/verification/resend [post]
func (h *VerificationHandler) resend(c *gin.Context) {
	var req VerificationResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid resend payload"))
		return
	}

	outcome, err := h.verification.Resend(c.Request.Context(), req.Email)
	if err != nil {
		var limited *usecase.RateLimitedError
		if errors.As(err, &limited) {
			h.respondRateLimited(c, limited)
			return
		}
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "no account for that email"},
			{Err: usecase.ErrAlreadyVerified, Status: http.StatusConflict, Message: "email already verified"},
			{Err: usecase.ErrCodeSendFailed, Status: http.StatusBadGateway, Message: "could not send verification code"},
		}, http.StatusInternalServerError, "resend failed")
		return
	}

	c.JSON(http.StatusOK, VerificationResendResponse{
		Message:           "code sent",
		Attempt:           outcome.Attempt,
		AttemptsRemaining: outcome.AttemptsRemaining,
	})
}

// Confirm godoc
// @Summary Confirm the account email with a code
// @Tags Verification
// @Accept json
// @Produce json
// @Param request body VerificationConfirmRequest true "Confirmation payload"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/verification/confirm [post]
func (h *VerificationHandler) confirm(c *gin.Context) {
	var req VerificationConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid confirmation payload"))
		return
	}

	if err := h.verification.Confirm(c.Request.Context(), req.Email, req.Code); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "no account for that email"},
			{Err: usecase.ErrAlreadyVerified, Status: http.StatusConflict, Message: "email already verified"},
			{Err: usecase.ErrIncorrectCode, Status: http.StatusBadRequest, Message: "incorrect or expired code"},
		}, http.StatusInternalServerError, "confirmation failed")
		return
	}

	// Verification is done; the pending view has nothing left to show.
	if err := h.gate.ClearPendingIdentity(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "confirmation failed"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "email verified"})
}

// Pending godoc
// @Summary Read the pending-identity record
// @Description Returns whose email the verification-pending view should show. 404 when no fresh record exists.
// @Tags Verification
// @Produce json
// @Success 200 {object} PendingIdentityResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/verification/pending [get]
func (h *VerificationHandler) pending(c *gin.Context) {
	record, err := h.gate.PendingIdentity(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to read pending identity"))
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "no pending verification"))
		return
	}

	c.JSON(http.StatusOK, PendingIdentityResponse{
		Email:     record.Email,
		Source:    record.Source,
		CreatedAt: record.CreatedAt,
	})
}

// RecordPending godoc
// @Summary Record the pending-identity
// @Description First fresh writer wins: the response always carries the authoritative record, which may belong to an earlier writer.
// @Tags Verification
// @Accept json
// @Produce json
// @Param request body PendingIdentityRequest true "Pending identity payload"
// @Success 200 {object} PendingIdentityResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/verification/pending [post]
func (h *VerificationHandler) recordPending(c *gin.Context) {
	var req PendingIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid pending identity payload"))
		return
	}

	source := strings.TrimSpace(req.Source)
	switch source {
	case domain.PendingSourceRegistration, domain.PendingSourceLoginRedirect, domain.PendingSourceReferral:
	case "":
		source = domain.PendingSourceRegistration
	default:
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "unknown source"))
		return
	}

	record, err := h.gate.RecordPendingIdentity(c.Request.Context(), req.Email, source)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to record pending identity"))
		return
	}

	c.JSON(http.StatusOK, PendingIdentityResponse{
		Email:     record.Email,
		Source:    record.Source,
		CreatedAt: record.CreatedAt,
	})
}

func (h *VerificationHandler) respondRateLimited(c *gin.Context, limited *usecase.RateLimitedError) {
	retrySeconds := int(math.Ceil(limited.RetryAfter.Seconds()))
	if retrySeconds < 0 {
		retrySeconds = 0
	}

	c.Header("Retry-After", strconv.Itoa(retrySeconds))

	message := "Espera antes de solicitar otro código."
	if limited.Reason == "blocked" {
		message = "Demasiados intentos. Intenta de nuevo más tarde."
	}

	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":       message,
		"reason":      limited.Reason,
		"retry_after": retrySeconds,
		"trace_id":    middleware.GetTraceID(c),
	})
}
