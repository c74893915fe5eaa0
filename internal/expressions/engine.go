// Package expressions hosts the expression languages that back inline
// operations (expr:, jq:, cel:). Every engine receives the positional
// arguments of a node as the "args" list.
package expressions

import "context"

// ArgsKey is the data key under which positional arguments are exposed.
const ArgsKey = "args"

// Engine evaluates expressions against node arguments.
// Three implementations: CEL, GoJQ and Expr.
type Engine interface {
	Name() string
	// Compile checks the expression and caches the compiled form.
	Compile(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// ArgsData wraps positional arguments in the layout every engine expects.
func ArgsData(args []any) map[string]any {
	if args == nil {
		args = []any{}
	}
	return map[string]any{ArgsKey: args}
}
