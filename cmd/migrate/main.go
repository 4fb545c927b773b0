// migrate runs DB migrations from embedded SQL; use with go run ./cmd/migrate -direction up.
// It connects with MIGRATION_DATABASE_URL (the table owner) when set, else DATABASE_URL.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"lms-platform/backend/internal/config"
	"lms-platform/backend/internal/db/migrate"
	"lms-platform/backend/internal/logger"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

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

	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		log.Fatal("invalid direction", zap.Error(err))
	}
	if err := migrate.Run(cfg.MigrationDSN(), dir, logger.WithComponent(log, "migrate")); err != nil {
		log.Fatal("migrate failed", zap.Error(err))
	}
}
