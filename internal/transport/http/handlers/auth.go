package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/telemetry"
	"github.com/leonlurk/broker-agm-sub002/internal/transport/http/middleware"
	"github.com/leonlurk/broker-agm-sub002/internal/usecase"
)

// AuthHandler exposes registration, login, and session endpoints. Login runs
// the full chain: primary credentials, the second-factor challenge when one is
// configured, and the verification continuation gate before a session is
// considered usable.
type AuthHandler struct {
	auth      *usecase.AuthService
	twoFactor *usecase.TwoFactorService
	gate      *usecase.ContinuationGate
	metrics   *telemetry.Provider
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *usecase.AuthService, twoFactor *usecase.TwoFactorService, gate *usecase.ContinuationGate, metrics *telemetry.Provider) *AuthHandler {
	return &AuthHandler{
		auth:      auth,
		twoFactor: twoFactor,
		gate:      gate,
		metrics:   metrics,
	}
}

// RegisterRoutes binds authentication routes, applying optional middleware ahead of login.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, sessionMiddleware gin.HandlerFunc, loginMiddlewares ...gin.HandlerFunc) {
	r.POST("/register", h.register)

	chain := append([]gin.HandlerFunc{}, loginMiddlewares...)
	chain = append(chain, h.login)
	r.POST("/login", chain...)

	r.POST("/logout", sessionMiddleware, h.logout)
	r.GET("/session", sessionMiddleware, h.session)
}

// Register godoc
// @Summary Register a new account
// @Description Creates an identity and its profile, returning a session and the continuation decision.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration payload"
// @Success 201 {object} RegisterResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	principal, session, err := h.auth.Register(c.Request.Context(), req.Username, req.Email, req.Password, strings.TrimSpace(req.ReferralID))
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrUsernameTaken, Status: http.StatusConflict, Message: "username already taken"},
			{Err: usecase.ErrEmailInUse, Status: http.StatusConflict, Message: "email already registered"},
			{Err: usecase.ErrInvalidEmail, Status: http.StatusBadRequest, Message: "email is not valid"},
			{Err: usecase.ErrWeakPassword, Status: http.StatusBadRequest, Message: "password does not meet requirements"},
			{Err: usecase.ErrProvider, Status: http.StatusBadGateway, Message: "identity provider unavailable"},
		}, http.StatusInternalServerError, "failed to register")
		return
	}

	// A fresh registration is always unverified; park it and remember whose
	// email the pending view shows.
	if _, err := h.gate.RecordPendingIdentity(c.Request.Context(), principal.Email, domain.PendingSourceRegistration); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to register"))
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{
		User:         newUserSummary(principal),
		Session:      newSessionPayload(session),
		Continuation: string(usecase.ContinuationPendingVerification),
	})
}

// Login godoc
// @Summary Authenticate with email or username
// @Description Validates credentials, then either returns a session or opens a second-factor challenge.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login payload"
// @Success 200 {object} LoginResponse "Authenticated, or second factor required (TwoFactorRequiredResponse)"
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	principal, session, err := h.auth.Login(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		h.countLogin("denied")
		RespondWithMappedError(c, err, []ErrorCase{
			// An unknown identifier and a wrong password are reported
			// identically so login cannot be used to probe for accounts.
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
			{Err: usecase.ErrUserNotFound, Status: http.StatusUnauthorized, Message: "invalid credentials"},
			{Err: usecase.ErrAmbiguousIdentifier, Status: http.StatusConflict, Message: "identifier is ambiguous, sign in with your email"},
			{Err: usecase.ErrProfileMissing, Status: http.StatusUnauthorized, Message: "account is not available"},
			{Err: usecase.ErrProvider, Status: http.StatusBadGateway, Message: "identity provider unavailable"},
		}, http.StatusInternalServerError, "authentication failed")
		return
	}

	challenge, err := h.twoFactor.BeginChallenge(c.Request.Context(), principal, session)
	if err != nil {
		h.countLogin("error")
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrCodeSendFailed, Status: http.StatusBadGateway, Message: "could not send verification code"},
		}, http.StatusInternalServerError, "authentication failed")
		return
	}

	if challenge.State != domain.ChallengeVerified {
		h.countLogin("challenge")
		c.JSON(http.StatusOK, TwoFactorRequiredResponse{
			Status:      "2fa_required",
			ChallengeID: challenge.ID,
			Method:      string(challenge.Method),
		})
		return
	}

	h.respondAuthenticated(c, principal, session)
}

// Logout godoc
// @Summary End the current session
// @Tags Authentication
// @Produce json
// @Success 204 {string} string ""
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	if err := h.auth.Logout(c.Request.Context(), session); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to end session"))
		return
	}

	c.Status(http.StatusNoContent)
}

// Session godoc
// @Summary Describe the current session
// @Description Returns the authenticated user and the continuation decision for this session.
// @Tags Authentication
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/session [get]
func (h *AuthHandler) session(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}
	session, _ := middleware.GetSession(c)

	decision, err := h.gate.Decide(c.Request.Context(), principal)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to resolve session"))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		User:         newUserSummary(principal),
		Session:      newSessionPayload(session),
		Continuation: string(decision),
	})
}

// respondAuthenticated applies the continuation gate and writes the final
// login response. A session parked pending verification still reaches the
// client so it can drive the resend and confirm endpoints, but the
// continuation tells it the application proper is off limits.
func (h *AuthHandler) respondAuthenticated(c *gin.Context, principal domain.Principal, session domain.ProviderSession) {
	decision, err := h.gate.Decide(c.Request.Context(), principal)
	if err != nil {
		h.countLogin("error")
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "authentication failed"))
		return
	}

	if decision == usecase.ContinuationPendingVerification {
		if _, err := h.gate.RecordPendingIdentity(c.Request.Context(), principal.Email, domain.PendingSourceLoginRedirect); err != nil {
			h.countLogin("error")
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "authentication failed"))
			return
		}
	}

	h.countLogin("succeeded")
	c.JSON(http.StatusOK, LoginResponse{
		User:         newUserSummary(principal),
		Session:      newSessionPayload(session),
		Continuation: string(decision),
	})
}

func (h *AuthHandler) countLogin(outcome string) {
	if h.metrics != nil {
		h.metrics.CountLogin(outcome)
	}
}
