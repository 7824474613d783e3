// Package expr compiles and evaluates operator-supplied expressions over
// tool results.
package expr

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Env is the variable set available to an expression. Result is the decoded
// JSON tool result, so member access such as result.id or len(result.results)
// is resolved at run time.
type Env struct {
	Tool   string `expr:"tool"`
	Result any    `expr:"result"`
}

// Program is a compiled expression ready for evaluation.
type Program struct {
	Source  string
	program *vm.Program
}

// Compile validates and compiles source against Env.
func Compile(source string) (*Program, error) {
	if source == "" {
		return nil, fmt.Errorf("empty expression")
	}

	program, err := expr.Compile(source, expr.Env(Env{}))
	if err != nil {
		return nil, fmt.Errorf("expression compile error: %w", err)
	}

	return &Program{
		Source:  source,
		program: program,
	}, nil
}
