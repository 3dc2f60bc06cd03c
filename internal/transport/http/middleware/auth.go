package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/usecase"
)

const (
	// BindingHeader lets a client name the binding that issued its token.
	// Absent, the session is treated as coming from the default binding.
	BindingHeader = "X-Auth-Binding"

	principalKey = "principal"
	sessionKey   = "provider_session"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireSession validates the Authorization header, resolves the session to a
// principal through the auth adapter, and stores both on the request context.
// The adapter's profile post-check runs as part of resolution, so a session
// whose profile disappeared is rejected here, not deeper in a handler.
func RequireSession(auth *usecase.AuthService, defaultBinding domain.BindingName) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			return
		}

		session := domain.ProviderSession{
			Binding:  bindingFromHeader(c, defaultBinding),
			Material: []byte(token),
		}

		principal, err := auth.CurrentPrincipal(c.Request.Context(), session)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrSessionExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "session expired"))
			case errors.Is(err, usecase.ErrProfileMissing):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "session no longer valid"))
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					newErrorResponse(c, "authentication failed"))
			}
			return
		}

		c.Set(principalKey, principal)
		c.Set(sessionKey, session)
		c.Set(UserIDKey, principal.ID)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = principal.ID
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized,
			newErrorResponse(c, "missing authorization header"))
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized,
			newErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized,
			newErrorResponse(c, "missing access token"))
		return "", false
	}

	return token, true
}

func bindingFromHeader(c *gin.Context, fallback domain.BindingName) domain.BindingName {
	switch strings.ToLower(strings.TrimSpace(c.GetHeader(BindingHeader))) {
	case string(domain.BindingNative):
		return domain.BindingNative
	case string(domain.BindingGateway):
		return domain.BindingGateway
	default:
		return fallback
	}
}

// GetPrincipal retrieves the authenticated principal placed by RequireSession.
func GetPrincipal(c *gin.Context) (domain.Principal, bool) {
	raw, exists := c.Get(principalKey)
	if !exists {
		return domain.Principal{}, false
	}
	principal, ok := raw.(domain.Principal)
	return principal, ok
}

// GetSession retrieves the provider session placed by RequireSession.
func GetSession(c *gin.Context) (domain.ProviderSession, bool) {
	raw, exists := c.Get(sessionKey)
	if !exists {
		return domain.ProviderSession{}, false
	}
	session, ok := raw.(domain.ProviderSession)
	return session, ok
}
