// Package rbac implements role-based authorization: an immutable role to permission
// matrix, role hierarchy comparisons, impersonation rules and gRPC guards.
package rbac

import "errors"

// Role is a platform role. Roles are ordered by the matrix hierarchy.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
	RoleOpsAdmin   Role = "ops_admin"
)

// Wildcard as resource and action grants everything.
const Wildcard = "*"

// Resources and actions used by the default matrix.
const (
	ResourceUsers       = "users"
	ResourceCourses     = "courses"
	ResourceEnrollments = "enrollments"
	ResourceProgress    = "progress"
	ResourceSessions    = "sessions"
	ResourceSites       = "sites"
	ResourceAuditLogs   = "audit_logs"
	ResourceSettings    = "settings"

	ActionCreate      = "create"
	ActionRead        = "read"
	ActionUpdate      = "update"
	ActionDelete      = "delete"
	ActionRevoke      = "revoke"
	ActionImpersonate = "impersonate"
)

// Permission is a (resource, action) pair.
type Permission struct {
	Resource string
	Action   string
}

// All is the wildcard permission.
var All = Permission{Resource: Wildcard, Action: Wildcard}

// Config describes a matrix. Hierarchy is ordered from least to most privileged.
// AdminRole is the lowest role considered administrative for impersonation targeting.
type Config struct {
	Hierarchy []Role
	AdminRole Role
	Grants    map[Role][]Permission
}

// DefaultConfig returns the platform matrix: student < instructor < admin < ops_admin.
func DefaultConfig() Config {
	read := func(resources ...string) []Permission {
		out := make([]Permission, 0, len(resources))
		for _, r := range resources {
			out = append(out, Permission{r, ActionRead})
		}
		return out
	}
	crud := func(resource string) []Permission {
		return []Permission{
			{resource, ActionCreate}, {resource, ActionRead},
			{resource, ActionUpdate}, {resource, ActionDelete},
		}
	}

	student := append(read(ResourceCourses, ResourceEnrollments, ResourceProgress, ResourceSessions),
		Permission{ResourceProgress, ActionUpdate},
		Permission{ResourceSessions, ActionRevoke},
	)
	instructor := append(read(ResourceCourses, ResourceEnrollments, ResourceProgress, ResourceSessions, ResourceUsers),
		Permission{ResourceCourses, ActionCreate},
		Permission{ResourceCourses, ActionUpdate},
		Permission{ResourceEnrollments, ActionCreate},
		Permission{ResourceEnrollments, ActionUpdate},
		Permission{ResourceProgress, ActionUpdate},
		Permission{ResourceSessions, ActionRevoke},
	)
	var admin []Permission
	for _, r := range []string{ResourceUsers, ResourceCourses, ResourceEnrollments, ResourceProgress, ResourceSites} {
		admin = append(admin, crud(r)...)
	}
	admin = append(admin,
		Permission{ResourceUsers, ActionImpersonate},
		Permission{ResourceSessions, ActionRead},
		Permission{ResourceSessions, ActionRevoke},
		Permission{ResourceAuditLogs, ActionRead},
		Permission{ResourceSettings, ActionRead},
		Permission{ResourceSettings, ActionUpdate},
	)

	return Config{
		Hierarchy: []Role{RoleStudent, RoleInstructor, RoleAdmin, RoleOpsAdmin},
		AdminRole: RoleAdmin,
		Grants: map[Role][]Permission{
			RoleStudent:    student,
			RoleInstructor: instructor,
			RoleAdmin:      admin,
			RoleOpsAdmin:   {All},
		},
	}
}

// Matrix answers authorization queries. It is built once from a Config, never
// mutated afterwards, and safe for concurrent use.
type Matrix struct {
	rank      map[Role]int
	top       Role
	adminRole Role
	grants    map[Role]map[Permission]struct{}
}

// NewMatrix validates cfg and builds a Matrix. The Config is copied.
func NewMatrix(cfg Config) (*Matrix, error) {
	if len(cfg.Hierarchy) == 0 {
		return nil, errors.New("rbac: hierarchy must not be empty")
	}
	m := &Matrix{
		rank:   make(map[Role]int, len(cfg.Hierarchy)),
		top:    cfg.Hierarchy[len(cfg.Hierarchy)-1],
		grants: make(map[Role]map[Permission]struct{}, len(cfg.Grants)),
	}
	for i, r := range cfg.Hierarchy {
		if _, dup := m.rank[r]; dup {
			return nil, errors.New("rbac: duplicate role in hierarchy: " + string(r))
		}
		m.rank[r] = i
	}
	if cfg.AdminRole == "" {
		cfg.AdminRole = m.top
	}
	if _, ok := m.rank[cfg.AdminRole]; !ok {
		return nil, errors.New("rbac: admin role not in hierarchy: " + string(cfg.AdminRole))
	}
	m.adminRole = cfg.AdminRole
	for role, perms := range cfg.Grants {
		if _, ok := m.rank[role]; !ok {
			return nil, errors.New("rbac: grants for unknown role: " + string(role))
		}
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		m.grants[role] = set
	}
	return m, nil
}

// MustNewMatrix is NewMatrix that panics on error. For static configs at process start.
func MustNewMatrix(cfg Config) *Matrix {
	m, err := NewMatrix(cfg)
	if err != nil {
		panic(err)
	}
	return m
}

// HasPermission reports whether any of roles grants the wildcard or (resource, action).
// Grants are the union across all roles.
func (m *Matrix) HasPermission(roles []Role, resource, action string) bool {
	want := Permission{Resource: resource, Action: action}
	for _, r := range roles {
		set := m.grants[r]
		if set == nil {
			continue
		}
		if _, ok := set[All]; ok {
			return true
		}
		if _, ok := set[want]; ok {
			return true
		}
	}
	return false
}

// AssertPermission returns an *AuthorizationError when HasPermission is false.
func (m *Matrix) AssertPermission(roles []Role, resource, action string) error {
	if m.HasPermission(roles, resource, action) {
		return nil
	}
	return &AuthorizationError{
		Resource: resource,
		Action:   action,
		Roles:    append([]Role(nil), roles...),
	}
}

// IsRoleAtLeast reports whether role ranks at or above min. Unknown roles are never at least anything.
func (m *Matrix) IsRoleAtLeast(role, min Role) bool {
	r, ok := m.rank[role]
	if !ok {
		return false
	}
	mr, ok := m.rank[min]
	if !ok {
		return false
	}
	return r >= mr
}

// HighestRole returns the most privileged known role in roles, or false if none is known.
func (m *Matrix) HighestRole(roles []Role) (Role, bool) {
	best, found := Role(""), false
	for _, r := range roles {
		rank, ok := m.rank[r]
		if !ok {
			continue
		}
		if !found || rank > m.rank[best] {
			best, found = r, true
		}
	}
	return best, found
}

// CanImpersonate reports whether roles hold the users:impersonate permission.
func (m *Matrix) CanImpersonate(roles []Role) bool {
	return m.HasPermission(roles, ResourceUsers, ActionImpersonate)
}

// CanImpersonateUser applies the impersonation rules: never self; the actor must hold
// users:impersonate; the top role may target anyone; any other actor may only target
// users with no administrative (AdminRole or higher) role.
func (m *Matrix) CanImpersonateUser(actorRoles, targetRoles []Role, actorID, targetID string) bool {
	if actorID == "" || actorID == targetID {
		return false
	}
	if !m.CanImpersonate(actorRoles) {
		return false
	}
	if highest, ok := m.HighestRole(actorRoles); ok && highest == m.top {
		return true
	}
	for _, r := range targetRoles {
		if m.IsRoleAtLeast(r, m.adminRole) {
			return false
		}
	}
	return true
}

// ParseRoles keeps only roles known to the hierarchy, in input order, without duplicates.
// Unknown values are dropped silently.
func (m *Matrix) ParseRoles(raw []string) []Role {
	out := make([]Role, 0, len(raw))
	seen := make(map[Role]struct{}, len(raw))
	for _, s := range raw {
		r := Role(s)
		if _, ok := m.rank[r]; !ok {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Strings converts roles for token claims and storage.
func Strings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
