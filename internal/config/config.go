// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinSecretLength is the minimum accepted length of JWT_SECRET in bytes.
const MinSecretLength = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN used by the server (application role, subject to RLS).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// MigrationDatabaseURL is the DSN of the owning role used by cmd/migrate; falls back to DatabaseURL.
	MigrationDatabaseURL string `mapstructure:"MIGRATION_DATABASE_URL"`

	// JWTSecret is the shared HMAC secret. Must be supplied out-of-band and be at least 32 bytes.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim; MFA challenge tokens use JWTAudience + ":mfa".
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	// PBKDF2Iterations is the target iteration count; stored hashes below it are upgraded on login.
	PBKDF2Iterations int `mapstructure:"PBKDF2_ITERATIONS"`
	// PasswordMinLength and PasswordMaxLength bound accepted passwords.
	PasswordMinLength int `mapstructure:"PASSWORD_MIN_LENGTH"`
	PasswordMaxLength int `mapstructure:"PASSWORD_MAX_LENGTH"`
	// PasswordRequireSpecial toggles the special-character rule.
	PasswordRequireSpecial bool `mapstructure:"PASSWORD_REQUIRE_SPECIAL"`

	// MFAIssuer is the issuer label shown in authenticator apps.
	MFAIssuer string `mapstructure:"MFA_ISSUER"`

	// RedisAddr enables the Redis-backed login limiter when set; otherwise an in-memory limiter is used.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	// LoginMaxAttempts is the number of login/MFA attempts allowed per LoginWindow.
	LoginMaxAttempts int    `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	LoginWindow      string `mapstructure:"LOGIN_WINDOW"`

	// SecurityEventsKafkaBrokers is a comma-separated list of Kafka brokers; empty disables the producer.
	SecurityEventsKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SecurityEventsTopic is the Kafka topic for security events.
	SecurityEventsTopic string `mapstructure:"SECURITY_EVENTS_TOPIC"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty uses no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext gRPC to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// SessionCheckPerRequest makes every authenticated RPC look up its session so revocation
	// takes effect before the access token expires. Off by default: access tokens are
	// self-contained and sessions are read only at login, refresh and logout.
	SessionCheckPerRequest bool `mapstructure:"SESSION_CHECK_PER_REQUEST"`

	// SessionCleanupInterval is how often cmd/worker purges old sessions.
	SessionCleanupInterval string `mapstructure:"SESSION_CLEANUP_INTERVAL"`

	// LogLevel is the zap level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. A missing or short JWT_SECRET is an error:
// no component that signs or verifies tokens may start without it.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MIGRATION_DATABASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "lms-auth")
	v.SetDefault("JWT_AUDIENCE", "lms-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("PBKDF2_ITERATIONS", 600000)
	v.SetDefault("PASSWORD_MIN_LENGTH", 8)
	v.SetDefault("PASSWORD_MAX_LENGTH", 128)
	v.SetDefault("PASSWORD_REQUIRE_SPECIAL", false)
	v.SetDefault("MFA_ISSUER", "LMS Platform")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_WINDOW", "15m")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SECURITY_EVENTS_TOPIC", "lms-security-events")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("SESSION_CHECK_PER_REQUEST", false)
	v.SetDefault("SESSION_CLEANUP_INTERVAL", "1h")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("config: JWT_SECRET must be set")
	}
	if len(cfg.JWTSecret) < MinSecretLength {
		return nil, errors.New("config: JWT_SECRET must be at least 32 bytes")
	}
	if cfg.JWTIssuer == "" || cfg.JWTAudience == "" {
		return nil, errors.New("config: JWT_ISSUER and JWT_AUDIENCE must be set")
	}
	if cfg.PBKDF2Iterations < 10000 {
		return nil, errors.New("config: PBKDF2_ITERATIONS must be at least 10000")
	}
	if cfg.PasswordMinLength < 1 || cfg.PasswordMaxLength < cfg.PasswordMinLength {
		return nil, errors.New("config: PASSWORD_MIN_LENGTH must be positive and not exceed PASSWORD_MAX_LENGTH")
	}
	if cfg.LoginMaxAttempts <= 0 {
		cfg.LoginMaxAttempts = 5
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDurationOr(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDurationOr(c.JWTRefreshTTL, 168*time.Hour)
}

// LoginWindowDuration parses LoginWindow. Returns 15m if unset or invalid.
func (c *Config) LoginWindowDuration() time.Duration {
	return parseDurationOr(c.LoginWindow, 15*time.Minute)
}

// CleanupInterval parses SessionCleanupInterval. Returns 1h if unset or invalid.
func (c *Config) CleanupInterval() time.Duration {
	return parseDurationOr(c.SessionCleanupInterval, time.Hour)
}

// MigrationDSN returns MigrationDatabaseURL, or DatabaseURL when it is unset.
func (c *Config) MigrationDSN() string {
	if c.MigrationDatabaseURL != "" {
		return c.MigrationDatabaseURL
	}
	return c.DatabaseURL
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka security event producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.SecurityEventsKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.SecurityEventsKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
