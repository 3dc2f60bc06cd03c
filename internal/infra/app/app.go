package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/leonlurk/broker-agm-sub002/internal/core/domain"
	"github.com/leonlurk/broker-agm-sub002/internal/core/port"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/config"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/database"
	kafkainfra "github.com/leonlurk/broker-agm-sub002/internal/infra/kafka"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/logger"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/mailer"
	redisinfra "github.com/leonlurk/broker-agm-sub002/internal/infra/redis"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/security"
	"github.com/leonlurk/broker-agm-sub002/internal/infra/telemetry"
	"github.com/leonlurk/broker-agm-sub002/internal/provider/gateway"
	"github.com/leonlurk/broker-agm-sub002/internal/provider/native"
	postgresrepo "github.com/leonlurk/broker-agm-sub002/internal/repository/postgres"
	redisrepo "github.com/leonlurk/broker-agm-sub002/internal/repository/redis"
	"github.com/leonlurk/broker-agm-sub002/internal/transport/http/middleware"
	"github.com/leonlurk/broker-agm-sub002/internal/transport/http/routes"
	"github.com/leonlurk/broker-agm-sub002/internal/usecase"
)

// profileDeletedTopic carries deletion events emitted by the profile service.
const profileDeletedTopic = "profile.deleted"

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	tracer   *telemetry.TracerProvider
	consumer *kafkainfra.ConsumerGroup
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics, err := telemetry.Attach(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	tracer, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	argonCfg := security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	}
	if err := security.ConfigureArgon2(argonCfg); err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)

	keyPrefix := cfg.Redis.KeyPrefix
	revokedUsers := redisrepo.NewRevokedUserRepository(redisClient.Client(), keyPrefix+":revoked")
	challenges := redisrepo.NewChallengeRepository(redisClient.Client(), keyPrefix+":2fa-challenge")
	codeStore := redisrepo.NewCodeRepository(redisClient.Client(), keyPrefix+":code")
	kvStore := redisrepo.NewKVRepository(redisClient.Client(), keyPrefix+":kv")

	// Initialize Kafka event publisher
	var eventPublisher port.EventPublisher
	var profileConsumer *kafkainfra.ConsumerGroup
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(kafkaProducer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}

		deletedHandler := kafkainfra.NewProfileDeletedConsumer(revokedUsers, cfg.Auth.RefreshTokenTTL, log)
		topic := profileDeletedTopic
		if cfg.Kafka.TopicPrefix != "" {
			topic = fmt.Sprintf("%s.%s", cfg.Kafka.TopicPrefix, profileDeletedTopic)
		}
		profileConsumer, err = kafkainfra.NewConsumerGroup(cfg.Kafka, []string{topic}, deletedHandler, log)
		if err != nil {
			log.Warn("failed to init profile deletion consumer, revocations rely on TTL only", zap.Error(err))
			profileConsumer = nil
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	smtpMailer := mailer.NewSMTPMailer(cfg.SMTP, log)
	codeSender := mailer.NewEmailCodeSender(codeStore, smtpMailer, cfg.Verification.CodeTTL, log)
	// The 2FA purpose gets its own sender so twofactor.email_code_ttl bounds
	// those codes independently of the account-verification TTL.
	twoFactorCodeSender := mailer.NewEmailCodeSender(codeStore, smtpMailer, cfg.TwoFactor.EmailCodeTTL, log)

	users := native.NewUserStore(pool)
	nativeBinding, err := native.NewBinding(users, cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, revokedUsers, codeSender, log)
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init native binding: %w", err)
	}
	gatewayBinding := gateway.NewBinding(cfg.Gateway, log)

	authService, err := usecase.NewAuthService(
		[]port.IdentityBinding{nativeBinding, gatewayBinding},
		domain.BindingName(cfg.Auth.DefaultBinding),
		domain.BindingName(cfg.Auth.LoginBinding),
		repos.Profiles,
		eventPublisher,
		log,
	)
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, fmt.Errorf("init auth service: %w", err)
	}

	totpManager := security.NewTOTPManager(security.TOTPConfig{
		Issuer: cfg.TwoFactor.Issuer,
		Digits: cfg.TwoFactor.Digits,
		Period: cfg.TwoFactor.Period,
		Skew:   cfg.TwoFactor.Skew,
	})

	twoFactorService := usecase.NewTwoFactorService(repos.TwoFactor, challenges, twoFactorCodeSender, totpManager, eventPublisher, usecase.TwoFactorConfig{
		ChallengeTTL:    cfg.TwoFactor.ChallengeTTL,
		ResendCooldown:  cfg.TwoFactor.ResendCooldown,
		BackupCodeCount: cfg.TwoFactor.BackupCodeCount,
	}, log)

	verificationService := usecase.NewVerificationService(repos.Profiles, codeSender, kvStore, eventPublisher, metrics, usecase.VerificationConfig{
		MaxSendAttempts: cfg.Verification.MaxSendAttempts,
		ResendCooldown:  cfg.Verification.ResendCooldown,
		BlockDuration:   cfg.Verification.BlockDuration,
	}, log)

	gate := usecase.NewContinuationGate(repos.Profiles, kvStore, cfg.Verification.PendingFreshness, log)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: keyPrefix + ":rate-limit",
		TTL:       rateLimitWindow * 2,
	})
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log)

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Telemetry:   metrics,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Auth:         authService,
			TwoFactor:    twoFactorService,
			Verification: verificationService,
			Gate:         gate,
		},
	})

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		tracer:   tracer,
		consumer: profileConsumer,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.tracer != nil {
			_ = a.tracer.Shutdown(context.Background())
		}
	}()

	if a.consumer != nil {
		go func() {
			// Consumer failures degrade revocation freshness but must not
			// take the API down with them.
			if err := a.consumer.Run(ctx); err != nil {
				a.logger.Error("profile deletion consumer stopped", zap.Error(err))
			}
		}()
		defer func() {
			_ = a.consumer.Close()
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
