package domain

import (
	"errors"
	"strings"
	"time"
)

// User is a tenant member. Email is unique within a tenant, not globally.
type User struct {
	ID           string
	TenantID     int64
	Email        string
	Name         string
	PasswordHash string
	Roles        []string
	Status       UserStatus
	MFAEnabled   bool
	MFASecret    string // active base32 TOTP secret
	// MFAPendingSecret is set by enrollment and promoted to MFASecret on confirmation.
	MFAPendingSecret string
	LastLoginAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// NormalizeEmail trims and lower-cases an address for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.TenantID <= 0 {
		return errors.New("tenant id is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if len(u.Roles) == 0 {
		return errors.New("at least one role is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

// Active reports whether the user may log in.
func (u *User) Active() bool {
	return u.Status == UserStatusActive
}
