package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App          AppSettings          `mapstructure:"app"`
	Postgres     PostgresSettings     `mapstructure:"postgres"`
	Redis        RedisSettings        `mapstructure:"redis"`
	Kafka        KafkaSettings        `mapstructure:"kafka"`
	SMTP         SMTPSettings         `mapstructure:"smtp"`
	Auth         AuthSettings         `mapstructure:"auth"`
	Gateway      GatewaySettings      `mapstructure:"gateway"`
	TwoFactor    TwoFactorSettings    `mapstructure:"twofactor"`
	Verification VerificationSettings `mapstructure:"verification"`
	Telemetry    TelemetrySettings    `mapstructure:"telemetry"`
	RateLimit    RateLimitSettings    `mapstructure:"rate_limit"`
	Argon2       Argon2Settings       `mapstructure:"argon2"`
}

type AppSettings struct {
	Name        string   `mapstructure:"name"`
	Env         string   `mapstructure:"env"`
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// KafkaSettings configures Kafka producer and the profile event consumer
type KafkaSettings struct {
	Brokers       []string `mapstructure:"brokers"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
	Async         bool     `mapstructure:"async"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

// SMTPSettings configures the outbound verification mailer
type SMTPSettings struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
	StartTLS    bool   `mapstructure:"start_tls"`
}

// AuthSettings configures the provider bindings and which one sign-in is pinned to.
type AuthSettings struct {
	// DefaultBinding names the binding every operation except sign-in routes through.
	DefaultBinding string `mapstructure:"default_binding"`
	// LoginBinding names the binding all password sign-ins route through,
	// regardless of which binding registered the account.
	LoginBinding    string        `mapstructure:"login_binding"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// GatewaySettings configures the HTTP client for the hosted identity gateway binding.
type GatewaySettings struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TwoFactorSettings configures the authenticator and email-code second factor.
type TwoFactorSettings struct {
	Issuer          string        `mapstructure:"issuer"`
	Digits          int           `mapstructure:"digits"`
	Period          int           `mapstructure:"period"`
	Skew            int           `mapstructure:"skew"`
	BackupCodeCount int           `mapstructure:"backup_code_count"`
	ChallengeTTL    time.Duration `mapstructure:"challenge_ttl"`
	EmailCodeTTL    time.Duration `mapstructure:"email_code_ttl"`
	ResendCooldown  time.Duration `mapstructure:"resend_cooldown"`
}

// VerificationSettings configures email confirmation and the resend limiter.
type VerificationSettings struct {
	CodeTTL          time.Duration `mapstructure:"code_ttl"`
	MaxSendAttempts  int           `mapstructure:"max_send_attempts"`
	ResendCooldown   time.Duration `mapstructure:"resend_cooldown"`
	BlockDuration    time.Duration `mapstructure:"block_duration"`
	PendingFreshness time.Duration `mapstructure:"pending_freshness"`
}

// RateLimitSettings configures sliding-window limits per endpoint
type RateLimitSettings struct {
	WindowDuration           time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts         int           `mapstructure:"login_max_attempts"`
	RegisterMaxAttempts      int           `mapstructure:"register_max_attempts"`
	TwoFactorMaxAttempts     int           `mapstructure:"twofactor_max_attempts"`
	PasswordResetMaxAttempts int           `mapstructure:"password_reset_max_attempts"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type TelemetrySettings struct {
	MetricsPort  int     `mapstructure:"metrics_port"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("BROKER")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.cors_origins",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.key_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"kafka.consumer_group",
		"smtp.host",
		"smtp.port",
		"smtp.username",
		"smtp.password",
		"smtp.from_address",
		"smtp.from_name",
		"smtp.start_tls",
		"auth.default_binding",
		"auth.login_binding",
		"auth.jwt_secret",
		"auth.access_token_ttl",
		"auth.refresh_token_ttl",
		"gateway.base_url",
		"gateway.api_key",
		"gateway.request_timeout",
		"twofactor.issuer",
		"twofactor.digits",
		"twofactor.period",
		"twofactor.skew",
		"twofactor.backup_code_count",
		"twofactor.challenge_ttl",
		"twofactor.email_code_ttl",
		"twofactor.resend_cooldown",
		"verification.code_ttl",
		"verification.max_send_attempts",
		"verification.resend_cooldown",
		"verification.block_duration",
		"verification.pending_freshness",
		"telemetry.metrics_port",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"rate_limit.register_max_attempts",
		"rate_limit.twofactor_max_attempts",
		"rate_limit.password_reset_max_attempts",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "broker-auth")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.cors_origins", []string{"*"})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "broker")
	v.SetDefault("postgres.password", "broker_password")
	v.SetDefault("postgres.database", "broker")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.key_prefix", "agm")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "broker")
	v.SetDefault("kafka.async", true)
	v.SetDefault("kafka.consumer_group", "broker-auth")

	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from_address", "no-reply@example.com")
	v.SetDefault("smtp.from_name", "Broker AGM")
	v.SetDefault("smtp.start_tls", true)

	v.SetDefault("auth.default_binding", "native")
	v.SetDefault("auth.login_binding", "native")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.refresh_token_ttl", "168h")

	v.SetDefault("gateway.base_url", "http://localhost:9999")
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.request_timeout", "10s")

	v.SetDefault("twofactor.issuer", "Broker AGM")
	v.SetDefault("twofactor.digits", 6)
	v.SetDefault("twofactor.period", 30)
	v.SetDefault("twofactor.skew", 1)
	v.SetDefault("twofactor.backup_code_count", 10)
	v.SetDefault("twofactor.challenge_ttl", "5m")
	v.SetDefault("twofactor.email_code_ttl", "10m")
	v.SetDefault("twofactor.resend_cooldown", "60s")

	v.SetDefault("verification.code_ttl", "15m")
	v.SetDefault("verification.max_send_attempts", 3)
	v.SetDefault("verification.resend_cooldown", "60s")
	v.SetDefault("verification.block_duration", "300s")
	v.SetDefault("verification.pending_freshness", "15m")

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "broker-auth")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 5)
	v.SetDefault("rate_limit.register_max_attempts", 3)
	v.SetDefault("rate_limit.twofactor_max_attempts", 10)
	v.SetDefault("rate_limit.password_reset_max_attempts", 3)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "BROKER_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
