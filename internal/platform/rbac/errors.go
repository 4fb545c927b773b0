package rbac

import (
	"errors"
	"fmt"
)

// AuthorizationError is a denied permission check. It carries the denied pair and the
// caller's roles for logging; it is never downgraded to not-found.
type AuthorizationError struct {
	Resource string
	Action   string
	Roles    []Role
}

func (e *AuthorizationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rbac: %s:%s denied for roles %v", e.Resource, e.Action, e.Roles)
}

// IsAuthorizationError returns the *AuthorizationError in err's chain, if any.
func IsAuthorizationError(err error) (*AuthorizationError, bool) {
	var authz *AuthorizationError
	if errors.As(err, &authz) {
		return authz, true
	}
	return nil, false
}
