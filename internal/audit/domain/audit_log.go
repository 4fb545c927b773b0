package domain

import "time"

// AuditLog represents an audit event within one tenant.
type AuditLog struct {
	ID             string
	TenantID       int64
	UserID         string
	ImpersonatorID string // acting admin when the user was impersonated
	Action         string
	Resource       string
	IP             string
	Metadata       string
	CreatedAt      time.Time
}
