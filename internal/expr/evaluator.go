package expr

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// Eval runs the program against env.
func (p *Program) Eval(env Env) (any, error) {
	if p == nil || p.program == nil {
		return nil, fmt.Errorf("nil compiled expression")
	}
	out, err := expr.Run(p.program, env)
	if err != nil {
		return nil, fmt.Errorf("expression eval error for %q: %w", p.Source, err)
	}
	return out, nil
}

// EvalBool runs a guard. A nil result, typically a field absent from the
// tool result, counts as false; any other non-boolean is an error.
func (p *Program) EvalBool(env Env) (bool, error) {
	out, err := p.Eval(env)
	switch b := out.(type) {
	case nil:
		return false, err
	case bool:
		return b, nil
	}
	return false, fmt.Errorf("expression %q returned %T, expected bool", p.Source, out)
}
