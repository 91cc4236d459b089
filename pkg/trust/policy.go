package trust

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/lesaloon/taric/pkg/contracts"
)

// PolicyTrust decorates a DeviceTrust with a CEL revocation policy. The
// expression is evaluated over `device_id` and `key_id` (empty string when
// absent) and forces revocation when it yields true, letting operators
// quarantine fleets ("device_id.startsWith('canary-')") without editing
// registry state.
//
// Policy evaluation errors fail closed: the key is treated as revoked.
type PolicyTrust struct {
	inner   DeviceTrust
	program cel.Program
}

// NewPolicyTrust compiles expr and wraps inner with it. An empty expression
// is rejected; use the inner resolver directly instead.
func NewPolicyTrust(inner DeviceTrust, expr string) (*PolicyTrust, error) {
	if expr == "" {
		return nil, fmt.Errorf("trust: empty revocation policy expression")
	}
	env, err := cel.NewEnv(
		cel.Variable("device_id", cel.StringType),
		cel.Variable("key_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("trust: policy env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("trust: compile policy: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("trust: policy must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("trust: policy program: %w", err)
	}
	return &PolicyTrust{inner: inner, program: prg}, nil
}

func (p *PolicyTrust) GetKey(deviceID string, keyID *string) (*contracts.VerifyingKey, bool) {
	return p.inner.GetKey(deviceID, keyID)
}

func (p *PolicyTrust) IsRevoked(deviceID string, keyID *string) bool {
	if p.inner.IsRevoked(deviceID, keyID) {
		return true
	}
	kid := ""
	if keyID != nil {
		kid = *keyID
	}
	out, _, err := p.program.Eval(map[string]any{
		"device_id": deviceID,
		"key_id":    kid,
	})
	if err != nil {
		return true
	}
	revoked, ok := out.Value().(bool)
	if !ok {
		return true
	}
	return revoked
}

var _ DeviceTrust = (*PolicyTrust)(nil)
