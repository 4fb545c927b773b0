// Worker purges stale sessions across all tenants every SESSION_CLEANUP_INTERVAL.
// It needs DATABASE_URL and JWT_SECRET like the server; GRPC_ADDR is unused.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lms-platform/backend/internal/config"
	"lms-platform/backend/internal/db"
	"lms-platform/backend/internal/logger"
	"lms-platform/backend/internal/security"
	sessionrepo "lms-platform/backend/internal/session/repository"
	sessionservice "lms-platform/backend/internal/session/service"
	"lms-platform/backend/internal/telemetry"
	oteltelemetry "lms-platform/backend/internal/telemetry/otel"
	"lms-platform/backend/internal/tenancy"
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
	log = logger.WithComponent(log, "worker")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	providers, err := oteltelemetry.NewProviders(ctx, cfg.OTLPEndpoint, "lms-worker", cfg.OTLPInsecure, log)
	if err != nil {
		log.Fatal("otel", zap.Error(err))
	}
	providers.SetGlobal()
	defer func() { _ = providers.Shutdown(context.Background()) }()

	database, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
	if err != nil {
		log.Fatal("db", zap.Error(err))
	}
	defer database.Close()

	codec, err := security.NewTokenCodec(security.CodecConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}, log)
	if err != nil {
		log.Fatal("token codec", zap.Error(err))
	}
	guard := tenancy.NewGuard(database, log)
	store := sessionservice.NewSessionStore(guard, guard, sessionrepo.NewPostgresRepository(), codec, telemetry.Nop{}, log)

	interval := cfg.CleanupInterval()
	log.Info("session cleanup scheduled", zap.Duration("interval", interval))
	runCleanup(ctx, store, interval, log)
	log.Info("worker stopped")
}

type cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// runCleanup runs c.Cleanup immediately and then on every tick until ctx is done.
func runCleanup(ctx context.Context, c cleaner, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := c.Cleanup(ctx); err != nil && ctx.Err() == nil {
			log.Error("session cleanup failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
