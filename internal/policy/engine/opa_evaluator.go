package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

const decisionQuery = "data.lms.mfa.decision"

// DefaultPolicy requires MFA for users who enabled it and for every ops_admin.
const DefaultPolicy = `package lms.mfa

default required := false

default privileged := false

privileged if "ops_admin" in input.user.roles

required if input.user.mfa_enabled

required if privileged

decision := {"required": required, "privileged": privileged}
`

// OPAEvaluator evaluates the MFA policy with an in-process Rego engine. The policy is
// compiled once at construction.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
	log   *zap.Logger
}

// NewOPAEvaluator compiles policy (DefaultPolicy when empty). The policy must define
// data.lms.mfa.decision as an object with boolean "required" and "privileged".
func NewOPAEvaluator(ctx context.Context, policy string, log *zap.Logger) (*OPAEvaluator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if policy == "" {
		policy = DefaultPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"mfa.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile mfa policy: %w", err)
	}
	query, err := rego.New(
		rego.Query(decisionQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare mfa policy: %w", err)
	}
	return &OPAEvaluator{query: query, log: log.Named("policy")}, nil
}

// HealthCheck evaluates the compiled policy against a minimal input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.EvaluateMFA(ctx, MFAInput{TenantID: 1})
	return err
}

// EvaluateMFA implements Evaluator. An evaluation error or an undefined decision is
// returned as an error; callers fail the login rather than skip the second factor.
func (e *OPAEvaluator) EvaluateMFA(ctx context.Context, in MFAInput) (MFAResult, error) {
	roles := in.Roles
	if roles == nil {
		roles = []string{}
	}
	input := map[string]interface{}{
		"tenant_id": in.TenantID,
		"user": map[string]interface{}{
			"id":           in.UserID,
			"roles":        roles,
			"mfa_enabled":  in.MFAEnabled,
			"mfa_enrolled": in.MFAEnrolled,
		},
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		e.log.Warn("mfa policy evaluation failed", zap.Int64("tenant_id", in.TenantID), zap.Error(err))
		return MFAResult{}, fmt.Errorf("evaluate mfa policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return MFAResult{}, errors.New("mfa policy returned no decision")
	}
	decision, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return MFAResult{}, fmt.Errorf("mfa policy decision has type %T", rs[0].Expressions[0].Value)
	}
	required, _ := decision["required"].(bool)
	privileged, _ := decision["privileged"].(bool)
	return MFAResult{Required: required, Privileged: privileged}, nil
}
