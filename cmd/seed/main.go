// seed inserts a development tenant and one user per role for local testing.
// Idempotent: skips inserts if the ops admin (ops@example.com) already exists in tenant 1.
// The ops admin has MFA enabled; its TOTP secret is printed so it can be added to an authenticator.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lms-platform/backend/internal/config"
	"lms-platform/backend/internal/db"
	"lms-platform/backend/internal/logger"
	"lms-platform/backend/internal/mfa"
	"lms-platform/backend/internal/platform/rbac"
	"lms-platform/backend/internal/security"
	"lms-platform/backend/internal/tenancy"
	"lms-platform/backend/internal/user/domain"
	userrepo "lms-platform/backend/internal/user/repository"
)

const (
	devTenantID   int64 = 1
	devTenantSlug       = "dev"
	devPassword         = "Password123"
	opsEmail            = "ops@example.com"
)

type seedUser struct {
	email string
	name  string
	role  rbac.Role
	mfa   bool
}

var devUsers = []seedUser{
	{email: opsEmail, name: "Ops Admin", role: rbac.RoleOpsAdmin, mfa: true},
	{email: "admin@example.com", name: "Dev Admin", role: rbac.RoleAdmin},
	{email: "instructor@example.com", name: "Dev Instructor", role: rbac.RoleInstructor},
	{email: "student@example.com", name: "Dev Student", role: rbac.RoleStudent},
}

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
	log = logger.WithComponent(log, "seed")

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		log.Fatal("db", zap.Error(err))
	}
	defer conn.Close()

	guard := tenancy.NewGuard(conn, log)
	users := userrepo.NewPostgresRepository()
	vault := security.NewPasswordVault(cfg.PBKDF2Iterations)
	totp := mfa.NewTOTP(cfg.MFAIssuer)

	var existing *domain.User
	err = guard.Read(ctx, strconv.FormatInt(devTenantID, 10), func(ctx context.Context, tx *tenancy.Tx) error {
		var err error
		existing, err = users.GetByEmail(ctx, tx, opsEmail)
		return err
	})
	if err != nil {
		log.Fatal("seed check", zap.Error(err))
	}
	if existing != nil {
		log.Info("seed already applied; skipping", zap.String("email", opsEmail))
		return
	}

	var opsSecret string
	err = guard.Run(ctx, tenancy.ForTenant(devTenantID), func(ctx context.Context, tx *tenancy.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tenants (id, slug, name) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
			devTenantID, devTenantSlug, "Dev Academy"); err != nil {
			return fmt.Errorf("create tenant: %w", err)
		}
		hash, err := vault.Hash(devPassword)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		now := time.Now().UTC()
		for _, su := range devUsers {
			u := &domain.User{
				ID:           uuid.NewString(),
				TenantID:     devTenantID,
				Email:        su.email,
				Name:         su.name,
				PasswordHash: hash,
				Roles:        []string{string(su.role)},
				Status:       domain.UserStatusActive,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if su.mfa {
				enrollment, err := totp.Generate(su.email)
				if err != nil {
					return fmt.Errorf("mfa secret: %w", err)
				}
				u.MFASecret, u.MFAEnabled = enrollment.Secret, true
				opsSecret = enrollment.Secret
			}
			if err := users.Create(ctx, tx, u); err != nil {
				return fmt.Errorf("create %s: %w", su.email, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal("seed failed", zap.Error(err))
	}

	fmt.Printf("Seeded tenant %d (%s). Password for all users: %s\n", devTenantID, devTenantSlug, devPassword)
	for _, su := range devUsers {
		fmt.Printf("  %-24s %s\n", su.email, su.role)
	}
	fmt.Printf("TOTP secret for %s: %s\n", opsEmail, opsSecret)
}
