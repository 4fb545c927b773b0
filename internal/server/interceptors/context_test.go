package interceptors

import (
	"context"
	"testing"
)

func TestWithIdentity_SetsAllValues(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{
		UserID: "user-1", TenantID: 7, SessionID: "session-1", Roles: []string{"admin"},
	})

	userID, ok := GetUserID(ctx)
	if !ok || userID != "user-1" {
		t.Errorf("GetUserID = %q, %v; want user-1, true", userID, ok)
	}
	tenantID, ok := GetTenantID(ctx)
	if !ok || tenantID != 7 {
		t.Errorf("GetTenantID = %d, %v; want 7, true", tenantID, ok)
	}
	sessionID, ok := GetSessionID(ctx)
	if !ok || sessionID != "session-1" {
		t.Errorf("GetSessionID = %q, %v; want session-1, true", sessionID, ok)
	}
	if _, ok := GetImpersonator(ctx); ok {
		t.Error("GetImpersonator should return false for a direct login")
	}
	id, ok := GetIdentity(ctx)
	if !ok || len(id.Roles) != 1 || id.Roles[0] != "admin" {
		t.Errorf("GetIdentity roles = %v", id.Roles)
	}
}

func TestGetImpersonator(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{UserID: "student-1", TenantID: 1, Impersonator: "admin-1"})
	got, ok := GetImpersonator(ctx)
	if !ok || got != "admin-1" {
		t.Errorf("GetImpersonator = %q, %v; want admin-1, true", got, ok)
	}
}

func TestGetters_EmptyContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := GetIdentity(ctx); ok {
		t.Error("GetIdentity should return false")
	}
	if _, ok := GetUserID(ctx); ok {
		t.Error("GetUserID should return false")
	}
	if _, ok := GetTenantID(ctx); ok {
		t.Error("GetTenantID should return false")
	}
	if _, ok := GetSessionID(ctx); ok {
		t.Error("GetSessionID should return false")
	}
}

func TestGetTenantID_NonPositive(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{UserID: "u", TenantID: 0})
	if _, ok := GetTenantID(ctx); ok {
		t.Error("GetTenantID should reject tenant 0")
	}
}
