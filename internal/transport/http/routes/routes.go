package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/config"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/telemetry"
	"github.com/leonlurk/broker-agm-sub002/internal/transport/http/handlers"
	"github.com/leonlurk/broker-agm-sub002/internal/transport/http/middleware"
	"github.com/leonlurk/broker-agm-sub002/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth         *usecase.AuthService
	TwoFactor    *usecase.TwoFactorService
	Verification *usecase.VerificationService
	Gate         *usecase.ContinuationGate
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Services    ServiceSet
	Telemetry   *telemetry.Provider
	Database    DatabaseChecker
	Cache       CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(deps.Config.App.CORSOrigins))

	if httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{}); err == nil {
		r.Use(httpMetrics.Handler())
	} else if deps.Logger != nil {
		deps.Logger.Warn("http metrics disabled", zap.Error(err))
	}

	sessionMiddleware := middleware.RequireSession(deps.Services.Auth, domain.BindingName(deps.Config.Auth.DefaultBinding))

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)
	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")

		authHandler := handlers.NewAuthHandler(deps.Services.Auth, deps.Services.TwoFactor, deps.Services.Gate, deps.Telemetry)
		authHandler.RegisterRoutes(authGroup, sessionMiddleware, rateLimitFor(deps, "auth_login_ip", deps.Config.RateLimit.LoginMaxAttempts)...)

		twoFactorHandler := handlers.NewTwoFactorHandler(deps.Services.TwoFactor, deps.Services.Gate, deps.Telemetry)
		twoFactorHandler.RegisterChallengeRoutes(authGroup, rateLimitFor(deps, "auth_twofactor_ip", deps.Config.RateLimit.TwoFactorMaxAttempts)...)

		twoFactorGroup := api.Group("/twofactor")
		twoFactorGroup.Use(sessionMiddleware)
		twoFactorHandler.RegisterManagementRoutes(twoFactorGroup)

		verificationHandler := handlers.NewVerificationHandler(deps.Services.Verification, deps.Services.Gate)
		verificationGroup := api.Group("/verification")
		verificationHandler.RegisterRoutes(verificationGroup)

		passwordHandler := handlers.NewPasswordHandler(deps.Services.Auth)
		passwordGroup := api.Group("/password")
		passwordHandler.RegisterRoutes(passwordGroup, sessionMiddleware, rateLimitFor(deps, "password_reset_ip", deps.Config.RateLimit.PasswordResetMaxAttempts)...)
	}

	handlers.RegisterSwagger(r)

	return r
}

func rateLimitFor(deps Dependencies, name string, limit int) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil || limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       name,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
