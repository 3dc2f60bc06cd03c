package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/telemetry"
	"github.com/leonlurk/broker-agm-sub002/internal/transport/http/middleware"
	"github.com/leonlurk/broker-agm-sub002/internal/usecase"
)

// TwoFactorHandler exposes the second-factor login challenge endpoints and
// the per-user enrollment management endpoints.
type TwoFactorHandler struct {
	twoFactor *usecase.TwoFactorService
	gate      *usecase.ContinuationGate
	metrics   *telemetry.Provider
}

// NewTwoFactorHandler constructs TwoFactorHandler.
func NewTwoFactorHandler(twoFactor *usecase.TwoFactorService, gate *usecase.ContinuationGate, metrics *telemetry.Provider) *TwoFactorHandler {
	return &TwoFactorHandler{
		twoFactor: twoFactor,
		gate:      gate,
		metrics:   metrics,
	}
}

// RegisterChallengeRoutes binds the challenge endpoints under the auth group.
// These run before a session exists, so no session middleware applies.
func (h *TwoFactorHandler) RegisterChallengeRoutes(r *gin.RouterGroup, middlewares ...gin.HandlerFunc) {
	verify := append([]gin.HandlerFunc{}, middlewares...)
	verify = append(verify, h.verify)
	r.POST("/login/2fa", verify...)

	resend := append([]gin.HandlerFunc{}, middlewares...)
	resend = append(resend, h.resend)
	r.POST("/login/2fa/resend", resend...)
}

// RegisterManagementRoutes binds the enrollment endpoints; callers must be
// authenticated.
func (h *TwoFactorHandler) RegisterManagementRoutes(r *gin.RouterGroup) {
	r.GET("", h.status)
	r.POST("/enroll", h.enroll)
	r.POST("/activate", h.activate)
	r.POST("/disable", h.disable)
	r.POST("/backup-codes", h.regenerateBackupCodes)
}

// Verify godoc
// @Summary Verify a second-factor code
// @Description Checks the submitted code against the open login challenge and, on success, releases the parked session.
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Param request body TwoFactorVerifyRequest true "Verification payload"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/login/2fa [post]
func (h *TwoFactorHandler) verify(c *gin.Context) {
	var req TwoFactorVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid verification payload"))
		return
	}

	ctx := c.Request.Context()

	attempted := domain.TwoFactorAuthenticator
	challenge, err := h.twoFactor.VerifyAuthenticatorCode(ctx, req.ChallengeID, req.Code)
	if errors.Is(err, usecase.ErrChallengeState) {
		// Not an authenticator challenge; try the email path with the same code.
		attempted = domain.TwoFactorEmail
		challenge, err = h.twoFactor.VerifyEmailCode(ctx, req.ChallengeID, req.Code)
	}
	if err == nil {
		h.countCheck(challenge.Method, "succeeded")
		h.respondVerified(c, challenge)
		return
	}

	h.countCheck(failedCheckMethod(attempted, err), "failed")
	RespondWithMappedError(c, err, []ErrorCase{
		{Err: usecase.ErrChallengeNotFound, Status: http.StatusGone, Message: "challenge expired, sign in again"},
		{Err: usecase.ErrChallengeState, Status: http.StatusConflict, Message: "challenge is not awaiting a code"},
		{Err: usecase.ErrIncorrectCode, Status: http.StatusUnauthorized, Message: "incorrect code"},
		{Err: usecase.ErrCodeExpired, Status: http.StatusUnauthorized, Message: "code expired, request a new one"},
	}, http.StatusInternalServerError, "verification failed")
}

// Resend godoc
// @Summary Resend the email second-factor code
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Param request body TwoFactorResendRequest true "Resend payload"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/v1/auth/login/2fa/resend [post]
func (h *TwoFactorHandler) resend(c *gin.Context) {
	var req TwoFactorResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid resend payload"))
		return
	}

	if _, err := h.twoFactor.ResendEmailCode(c.Request.Context(), req.ChallengeID); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrChallengeNotFound, Status: http.StatusGone, Message: "challenge expired, sign in again"},
			{Err: usecase.ErrChallengeState, Status: http.StatusConflict, Message: "challenge does not use email codes"},
			{Err: usecase.ErrResendCooldown, Status: http.StatusTooManyRequests, Message: "wait before requesting another code"},
			{Err: usecase.ErrCodeSendFailed, Status: http.StatusBadGateway, Message: "could not send verification code"},
		}, http.StatusInternalServerError, "resend failed")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "code sent"})
}

// Status godoc
// @Summary Describe the caller's second-factor configuration
// @Tags TwoFactor
// @Produce json
// @Success 200 {object} TwoFactorStatusResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/twofactor [get]
func (h *TwoFactorHandler) status(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	status, err := h.twoFactor.Status(c.Request.Context(), principal)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to load configuration"))
		return
	}
	if status == nil {
		c.JSON(http.StatusOK, TwoFactorStatusResponse{Enabled: false})
		return
	}

	resp := TwoFactorStatusResponse{
		Enabled:           status.Enabled,
		Method:            string(status.Method),
		BackupCodesLeft:   len(status.BackupCodeHashes),
		PendingActivation: !status.Enabled,
	}
	if status.ActivatedAt != nil {
		resp.ActivatedAt = status.ActivatedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}

	c.JSON(http.StatusOK, resp)
}

// Enroll godoc
// @Summary Enroll a second factor
// @Description Authenticator enrollment returns provisioning material and stays inert until activated; email enrollment is active immediately.
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Param request body TwoFactorEnrollRequest true "Enrollment payload"
// @Success 200 {object} TwoFactorEnrollResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/twofactor/enroll [post]
func (h *TwoFactorHandler) enroll(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req TwoFactorEnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid enrollment payload"))
		return
	}

	switch domain.TwoFactorMethod(req.Method) {
	case domain.TwoFactorAuthenticator:
		enrollment, err := h.twoFactor.EnrollAuthenticator(c.Request.Context(), principal)
		if err != nil {
			RespondWithMappedError(c, err, []ErrorCase{
				{Err: usecase.ErrTwoFactorAlreadyActive, Status: http.StatusConflict, Message: "a second factor is already active"},
			}, http.StatusInternalServerError, "enrollment failed")
			return
		}
		c.JSON(http.StatusOK, TwoFactorEnrollResponse{
			Method:       string(domain.TwoFactorAuthenticator),
			Secret:       enrollment.Secret,
			ProvisionURI: enrollment.ProvisionURI,
		})

	case domain.TwoFactorEmail:
		if err := h.twoFactor.EnableEmail(c.Request.Context(), principal); err != nil {
			RespondWithMappedError(c, err, []ErrorCase{
				{Err: usecase.ErrTwoFactorAlreadyActive, Status: http.StatusConflict, Message: "a second factor is already active"},
			}, http.StatusInternalServerError, "enrollment failed")
			return
		}
		c.JSON(http.StatusOK, TwoFactorEnrollResponse{Method: string(domain.TwoFactorEmail)})

	default:
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "unsupported method"))
	}
}

// Activate godoc
// @Summary Activate a pending authenticator enrollment
// @Tags TwoFactor
// @Accept json
// @Produce json
// @Param request body TwoFactorActivateRequest true "Activation payload"
// @Success 200 {object} BackupCodesResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/twofactor/activate [post]
func (h *TwoFactorHandler) activate(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req TwoFactorActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid activation payload"))
		return
	}

	backupCodes, err := h.twoFactor.Activate(c.Request.Context(), principal, req.Code)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrTwoFactorNotEnrolled, Status: http.StatusConflict, Message: "no pending enrollment"},
			{Err: usecase.ErrTwoFactorAlreadyActive, Status: http.StatusConflict, Message: "second factor already active"},
			{Err: usecase.ErrIncorrectCode, Status: http.StatusBadRequest, Message: "incorrect code"},
		}, http.StatusInternalServerError, "activation failed")
		return
	}

	c.JSON(http.StatusOK, BackupCodesResponse{BackupCodes: backupCodes})
}

// Disable godoc
// @Summary Disable the second factor
// @Tags TwoFactor
// @Produce json
// @Success 204 {string} string ""
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/twofactor/disable [post]
func (h *TwoFactorHandler) disable(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	if err := h.twoFactor.Disable(c.Request.Context(), principal); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrTwoFactorNotEnrolled, Status: http.StatusConflict, Message: "no second factor configured"},
		}, http.StatusInternalServerError, "disable failed")
		return
	}

	c.Status(http.StatusNoContent)
}

// RegenerateBackupCodes godoc
// @Summary Replace the backup-code set
// @Description Returns a fresh set of backup codes; previously issued codes stop working.
// @Tags TwoFactor
// @Produce json
// @Success 200 {object} BackupCodesResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/twofactor/backup-codes [post]
func (h *TwoFactorHandler) regenerateBackupCodes(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	backupCodes, err := h.twoFactor.RegenerateBackupCodes(c.Request.Context(), principal)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrTwoFactorNotEnrolled, Status: http.StatusConflict, Message: "no second factor configured"},
			{Err: usecase.ErrTwoFactorNotActive, Status: http.StatusConflict, Message: "authenticator second factor is not active"},
		}, http.StatusInternalServerError, "regeneration failed")
		return
	}

	c.JSON(http.StatusOK, BackupCodesResponse{BackupCodes: backupCodes})
}

func (h *TwoFactorHandler) respondVerified(c *gin.Context, challenge domain.LoginChallenge) {
	decision, err := h.gate.Decide(c.Request.Context(), challenge.Principal)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "verification failed"))
		return
	}

	if decision == usecase.ContinuationPendingVerification {
		if _, err := h.gate.RecordPendingIdentity(c.Request.Context(), challenge.Principal.Email, domain.PendingSourceLoginRedirect); err != nil {
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "verification failed"))
			return
		}
	}

	c.JSON(http.StatusOK, LoginResponse{
		User:         newUserSummary(challenge.Principal),
		Session:      newSessionPayload(challenge.Session),
		Continuation: string(decision),
	})
}

// failedCheckMethod attributes a failed verification to the method that was
// actually attempted. Challenge-level failures happen before any code check
// runs, so no method applies to them.
func failedCheckMethod(attempted domain.TwoFactorMethod, err error) domain.TwoFactorMethod {
	if errors.Is(err, usecase.ErrChallengeNotFound) || errors.Is(err, usecase.ErrChallengeState) {
		return ""
	}
	return attempted
}

func (h *TwoFactorHandler) countCheck(method domain.TwoFactorMethod, outcome string) {
	if h.metrics == nil {
		return
	}
	name := string(method)
	if name == "" {
		name = "unknown"
	}
	h.metrics.CountTwoFactorCheck(name, outcome)
}
