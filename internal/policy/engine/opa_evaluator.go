package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/svenmapprio/menuet/internal/policy/domain"
)

const denyQuery = "data.menuet.guards.deny"

// Built-in guards. Operator policies stored in guard_policies extend the same package.
const defaultRegoPolicy = `package menuet.guards

deny contains "cannot befriend yourself" if {
	input.route == "put/friend"
	input.body.userId == input.user_id
}

deny contains "cannot unfriend yourself" if {
	input.route == "delete/friend"
	input.body.userId == input.user_id
}

deny contains "handle must be 1-32 lowercase letters or digits" if {
	input.route == "put/user"
	not valid_handle
}

valid_handle if {
	is_string(input.body.handle)
	regex.match("^[a-z0-9]{1,32}$", input.body.handle)
}
`

// PolicySource lists operator-supplied guard modules.
type PolicySource interface {
	ListEnabled(ctx context.Context) ([]*domain.Policy, error)
}

// OPAEvaluator evaluates route guards with OPA Rego.
type OPAEvaluator struct {
	source PolicySource
	log    zerolog.Logger
}

// NewOPAEvaluator returns an evaluator over the built-in guards plus any enabled policies in source.
// source may be nil.
func NewOPAEvaluator(source PolicySource, log zerolog.Logger) *OPAEvaluator {
	return &OPAEvaluator{source: source, log: log}
}

// HealthCheck verifies that the built-in guards compile and evaluate. It does not touch the policy source.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	compiler, err := ast.CompileModules(map[string]string{"guards.rego": defaultRegoPolicy})
	if err != nil {
		return fmt.Errorf("compile default policy: %w", err)
	}
	_, err = evalDeny(ctx, compiler, Input{Route: "get/session"})
	return err
}

// Evaluate runs every guard against in. Operator policies that fail to load or compile are
// skipped with a warning; the built-in guards always apply.
func (e *OPAEvaluator) Evaluate(ctx context.Context, in Input) (Decision, error) {
	modules := map[string]string{"guards.rego": defaultRegoPolicy}
	if e.source != nil {
		policies, err := e.source.ListEnabled(ctx)
		if err != nil {
			e.log.Warn().Err(err).Msg("load guard policies")
		}
		for _, p := range policies {
			if p.Enabled && p.Rules != "" {
				modules[fmt.Sprintf("policy_%s.rego", p.ID)] = p.Rules
			}
		}
	}

	compiler, err := ast.CompileModules(modules)
	if err != nil && len(modules) > 1 {
		e.log.Warn().Err(err).Msg("compile guard policies, using built-in guards")
		compiler, err = ast.CompileModules(map[string]string{"guards.rego": defaultRegoPolicy})
	}
	if err != nil {
		return Decision{}, fmt.Errorf("compile guards: %w", err)
	}

	reasons, err := evalDeny(ctx, compiler, in)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: len(reasons) == 0, Reasons: reasons}, nil
}

func evalDeny(ctx context.Context, compiler *ast.Compiler, in Input) ([]string, error) {
	input, err := toInput(in)
	if err != nil {
		return nil, err
	}
	rs, err := rego.New(
		rego.Query(denyQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	).Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("eval guards: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}
	set, _ := rs[0].Expressions[0].Value.([]interface{})
	reasons := make([]string, 0, len(set))
	for _, v := range set {
		if s, ok := v.(string); ok {
			reasons = append(reasons, s)
		}
	}
	sort.Strings(reasons)
	return reasons, nil
}

// toInput round-trips through JSON so Rego sees plain numbers and the json field names.
func toInput(in Input) (map[string]interface{}, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode guard input: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode guard input: %w", err)
	}
	return out, nil
}
