// Package engine decides, per login, whether a second factor is required.
package engine

import "context"

// MFAInput is what the policy sees about the user logging in.
type MFAInput struct {
	TenantID    int64
	UserID      string
	Roles       []string
	MFAEnabled  bool
	MFAEnrolled bool // a TOTP secret exists, confirmed or not
}

// MFAResult is the policy decision.
type MFAResult struct {
	Required bool
	// Privileged is true when the requirement comes from the user's role rather than
	// their own opt-in. A privileged user without a confirmed secret cannot log in.
	Privileged bool
}

// Evaluator evaluates the MFA policy.
type Evaluator interface {
	EvaluateMFA(ctx context.Context, in MFAInput) (MFAResult, error)
}
