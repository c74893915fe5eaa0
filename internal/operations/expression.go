package operations

import (
	"context"

	"github.com/rendis/graphcompose/internal/expressions"
)

// ExpressionOperation evaluates an inline expression with the node's
// positional arguments bound as "args".
type ExpressionOperation struct {
	engine     expressions.Engine
	expression string
}

// Invoke evaluates the expression against args.
func (o *ExpressionOperation) Invoke(ctx context.Context, args []any) (any, error) {
	return o.engine.Evaluate(ctx, o.expression, expressions.ArgsData(args))
}

// Expression returns the source text.
func (o *ExpressionOperation) Expression() string { return o.expression }

// ExpressionScheme returns a factory that compiles bodies with engine.
func ExpressionScheme(engine expressions.Engine) SchemeFactory {
	return func(body string) (Operation, error) {
		if err := engine.Compile(body); err != nil {
			return nil, err
		}
		return &ExpressionOperation{engine: engine, expression: body}, nil
	}
}

// RegisterExpressionSchemes installs the cel:, expr: and jq: schemes.
func RegisterExpressionSchemes(reg *Registry) error {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return err
	}

	schemes := []struct {
		engine      expressions.Engine
		description string
	}{
		{celEngine, "CEL expression over the list args"},
		{expressions.NewExprEngine(), "Expr program over the list args; map literals yield named outputs"},
		{expressions.NewGoJQEngine(), "jq filter over {\"args\": [...]}"},
	}
	for _, s := range schemes {
		if err := reg.RegisterScheme(s.engine.Name(), ExpressionScheme(s.engine), s.description); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultRegistry returns a registry with every builtin namespace and
// expression scheme installed.
func NewDefaultRegistry() (*Registry, error) {
	reg := NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		return nil, err
	}
	if err := RegisterExpressionSchemes(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
