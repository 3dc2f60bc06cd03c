package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leonlurk/broker-agm-sub002/internal/transport/http/middleware"
	"github.com/leonlurk/broker-agm-sub002/internal/usecase"
)

// PasswordHandler exposes password recovery and change endpoints.
type PasswordHandler struct {
	auth *usecase.AuthService
}

// NewPasswordHandler constructs PasswordHandler.
func NewPasswordHandler(auth *usecase.AuthService) *PasswordHandler {
	return &PasswordHandler{auth: auth}
}

// RegisterRoutes binds password routes. Reset is unauthenticated; update
// requires a session.
func (h *PasswordHandler) RegisterRoutes(r *gin.RouterGroup, sessionMiddleware gin.HandlerFunc, resetMiddlewares ...gin.HandlerFunc) {
	reset := append([]gin.HandlerFunc{}, resetMiddlewares...)
	reset = append(reset, h.reset)
	r.POST("/reset", reset...)

	r.PUT("/update", sessionMiddleware, h.update)
}

// Reset godoc
// @Summary Start password recovery
// @Description Always responds 200 so recovery cannot be used to probe for accounts.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body PasswordResetRequest true "Recovery payload"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/v1/password/reset [post]
func (h *PasswordHandler) reset(c *gin.Context) {
	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid recovery payload"))
		return
	}

	if err := h.auth.ResetPassword(c.Request.Context(), req.Email); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrProvider, Status: http.StatusBadGateway, Message: "identity provider unavailable"},
		}, http.StatusInternalServerError, "recovery failed")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "if the address is registered, a recovery email is on its way"})
}

// Update godoc
// @Summary Change the authenticated user's password
// @Tags Password
// @Accept json
// @Produce json
// @Param request body PasswordUpdateRequest true "New password payload"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/password/update [put]
func (h *PasswordHandler) update(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req PasswordUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password payload"))
		return
	}

	if err := h.auth.UpdatePassword(c.Request.Context(), session, req.NewPassword); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrWeakPassword, Status: http.StatusBadRequest, Message: "password does not meet requirements"},
			{Err: usecase.ErrSessionExpired, Status: http.StatusUnauthorized, Message: "session expired"},
			{Err: usecase.ErrProvider, Status: http.StatusBadGateway, Message: "identity provider unavailable"},
		}, http.StatusInternalServerError, "password change failed")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password updated"})
}
