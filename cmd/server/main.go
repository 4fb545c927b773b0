package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lms-platform/backend/internal/audit"
	auditrepo "lms-platform/backend/internal/audit/repository"
	"lms-platform/backend/internal/config"
	"lms-platform/backend/internal/db"
	identityservice "lms-platform/backend/internal/identity/service"
	"lms-platform/backend/internal/logger"
	"lms-platform/backend/internal/mfa"
	"lms-platform/backend/internal/platform/rbac"
	"lms-platform/backend/internal/policy/engine"
	"lms-platform/backend/internal/ratelimit"
	"lms-platform/backend/internal/security"
	"lms-platform/backend/internal/server"
	"lms-platform/backend/internal/server/interceptors"
	sessionrepo "lms-platform/backend/internal/session/repository"
	sessionservice "lms-platform/backend/internal/session/service"
	"lms-platform/backend/internal/telemetry"
	oteltelemetry "lms-platform/backend/internal/telemetry/otel"
	"lms-platform/backend/internal/telemetry/producer"
	"lms-platform/backend/internal/tenancy"
	userrepo "lms-platform/backend/internal/user/repository"
)

const (
	serviceName   = "lms-backend"
	shutdownGrace = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	providers, err := oteltelemetry.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure, logger.WithComponent(log, "otel"))
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	database, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer database.Close()
	guard := tenancy.NewGuard(database, logger.WithComponent(log, "tenancy"))

	codec, err := security.NewTokenCodec(security.CodecConfig{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.AccessTTL(),
		RefreshTTL: cfg.RefreshTTL(),
	}, logger.WithComponent(log, "tokens"))
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}
	matrix := rbac.MustNewMatrix(rbac.DefaultConfig())

	policy, err := engine.NewOPAEvaluator(ctx, "", logger.WithComponent(log, "policy"))
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	limiter := ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
	if cfg.RedisAddr != "" {
		limiter, err = ratelimit.NewRedisLimiter(ctx, ratelimit.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		log.Info("login rate limiter backed by redis", zap.String("addr", cfg.RedisAddr))
	}

	emitters := []telemetry.EventEmitter{oteltelemetry.NewEventEmitter(providers.LoggerProvider)}
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kp, err := producer.NewKafkaProducer(brokers, cfg.SecurityEventsTopic, logger.WithComponent(log, "kafka"))
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		defer func() { _ = kp.Close() }()
		emitters = append(emitters, kp)
	}
	events := telemetry.Fanout(emitters...)

	auditLogger := audit.NewLogger(guard, auditrepo.NewPostgresRepository(), interceptors.ClientIP, log)
	sessions := sessionservice.NewSessionStore(guard, guard, sessionrepo.NewPostgresRepository(), codec, events, log)

	password := security.DefaultPasswordPolicy()
	password.MinLength = cfg.PasswordMinLength
	password.MaxLength = cfg.PasswordMaxLength
	password.RequireSpecial = cfg.PasswordRequireSpecial

	auth, err := identityservice.NewAuthService(identityservice.Deps{
		Runner:   guard,
		Users:    userrepo.NewPostgresRepository(),
		Sessions: sessions,
		Vault:    security.NewPasswordVault(cfg.PBKDF2Iterations),
		Codec:    codec,
		Matrix:   matrix,
		Policy:   policy,
		TOTP:     mfa.NewTOTP(cfg.MFAIssuer),
		Limiter:  limiter,
		Limits:   identityservice.Limits{MaxAttempts: cfg.LoginMaxAttempts, Window: cfg.LoginWindowDuration()},
		Password: password,
		Audit:    auditLogger,
		Events:   events,
		Log:      log,
	})
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer lis.Close()

	s := server.NewGRPCServer(server.Options{
		Codec:         codec,
		Sessions:      sessions,
		CheckSessions: cfg.SessionCheckPerRequest,
		Audit:         auditLogger,
		Events:        events,
		Log:           log,
	})
	server.RegisterServices(s, server.Deps{
		Auth:                auth,
		Sessions:            sessions,
		Matrix:              matrix,
		Audit:               auditLogger,
		AuditLister:         auditLogger,
		HealthPinger:        database,
		HealthPolicyChecker: policy,
		Log:                 log,
	})

	serveErr := make(chan error, 1)
	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		serveErr <- s.Serve(lis)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-quit:
	}

	log.Info("shutting down gRPC server")
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownGrace):
		log.Warn("graceful stop timed out; forcing")
		s.Stop()
	}
	log.Info("gRPC server stopped")
	return nil
}
