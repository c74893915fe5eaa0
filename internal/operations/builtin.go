package operations

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"

	"github.com/rendis/graphcompose/internal/naming"
	"github.com/rendis/graphcompose/pkg/schema"
)

// RegisterBuiltins registers the math, strings, core, crypto and assert namespaces.
func RegisterBuiltins(reg *Registry) error {
	namespaces := []struct {
		prefix  string
		entries []Entry
	}{
		{"math", MathOperations()},
		{"strings", StringOperations()},
		{"core", CoreOperations()},
		{"crypto", CryptoOperations()},
		{"assert", AssertOperations()},
	}
	for _, ns := range namespaces {
		if _, err := reg.RegisterNamespace(ns.prefix, ns.entries); err != nil {
			return err
		}
	}
	return nil
}

// MathOperations returns the arithmetic operations. Integer arithmetic is used
// when every argument is an integer, float64 otherwise.
func MathOperations() []Entry {
	return []Entry{
		{Name: "add", Description: "Sum of two or more numbers", Op: Func(func(_ context.Context, args []any) (any, error) {
			if err := minArity("math.add", args, 2); err != nil {
				return nil, err
			}
			return fold("math.add", args, addInt, func(a, b float64) float64 { return a + b })
		})},
		{Name: "subtract", Description: "First argument minus the second", Op: Func(func(_ context.Context, args []any) (any, error) {
			if err := arity("math.subtract", args, 2); err != nil {
				return nil, err
			}
			return fold("math.subtract", args, subInt, func(a, b float64) float64 { return a - b })
		})},
		{Name: "multiply", Description: "Product of two or more numbers", Op: Func(func(_ context.Context, args []any) (any, error) {
			if err := minArity("math.multiply", args, 2); err != nil {
				return nil, err
			}
			return fold("math.multiply", args, mulInt, func(a, b float64) float64 { return a * b })
		})},
		{Name: "divide", Description: "First argument divided by the second, always float", Op: Func(divide)},
		{Name: "sum", Description: "Sum of all arguments, or of a single list argument", Op: Func(sum)},
		{Name: "negate", Description: "Negated number", Op: Func(func(_ context.Context, args []any) (any, error) {
			if err := arity("math.negate", args, 1); err != nil {
				return nil, err
			}
			return fold("math.negate", []any{0, args[0]}, subInt, func(a, b float64) float64 { return a - b })
		})},
	}
}

// StringOperations returns the string operations.
func StringOperations() []Entry {
	return []Entry{
		{Name: "concat", Description: "Concatenation of all arguments", Op: Func(func(_ context.Context, args []any) (any, error) {
			parts, err := toStrings("strings.concat", args)
			if err != nil {
				return nil, err
			}
			return strings.Join(parts, ""), nil
		})},
		{Name: "upper", Description: "Upper-cased string", Op: unaryString("strings.upper", strings.ToUpper)},
		{Name: "lower", Description: "Lower-cased string", Op: unaryString("strings.lower", strings.ToLower)},
		{Name: "snake_case", Description: "snake_case form of a name", Op: unaryString("strings.snake_case", naming.ToSnakeCase)},
		{Name: "join", Description: "Items joined by the first argument", Op: Func(join)},
	}
}

// CoreOperations returns the structural operations.
func CoreOperations() []Entry {
	return []Entry{
		{Name: "identity", Description: "Returns its single argument", Op: Func(func(_ context.Context, args []any) (any, error) {
			if err := arity("core.identity", args, 1); err != nil {
				return nil, err
			}
			return args[0], nil
		})},
		{Name: "list", Description: "Collects all arguments into a list", Op: Func(func(_ context.Context, args []any) (any, error) {
			out := make([]any, len(args))
			copy(out, args)
			return out, nil
		})},
		{Name: "fields", Description: "Builds named outputs from alternating key, value arguments", Op: Func(fields)},
	}
}

func divide(_ context.Context, args []any) (any, error) {
	if err := arity("math.divide", args, 2); err != nil {
		return nil, err
	}
	a, err := cast.ToFloat64E(args[0])
	if err != nil {
		return nil, argError("math.divide", 0, err)
	}
	b, err := cast.ToFloat64E(args[1])
	if err != nil {
		return nil, argError("math.divide", 1, err)
	}
	if b == 0 {
		return nil, schema.NewError(schema.ErrCodeExecution, "math.divide: division by zero")
	}
	return a / b, nil
}

func sum(_ context.Context, args []any) (any, error) {
	if len(args) == 1 {
		if items, ok := args[0].([]any); ok {
			args = items
		}
	}
	if len(args) == 0 {
		return 0, nil
	}
	return fold("math.sum", append([]any{0}, args...), addInt, func(a, b float64) float64 { return a + b })
}

func join(_ context.Context, args []any) (any, error) {
	if err := minArity("strings.join", args, 1); err != nil {
		return nil, err
	}
	sep, err := cast.ToStringE(args[0])
	if err != nil {
		return nil, argError("strings.join", 0, err)
	}
	items := args[1:]
	if len(items) == 1 {
		if list, ok := items[0].([]any); ok {
			items = list
		}
	}
	parts, err := toStrings("strings.join", items)
	if err != nil {
		return nil, err
	}
	return strings.Join(parts, sep), nil
}

func fields(_ context.Context, args []any) (any, error) {
	if len(args)%2 != 0 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "core.fields: expected key, value pairs, got %d arguments", len(args))
	}
	out := make(Outputs, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, err := cast.ToStringE(args[i])
		if err != nil {
			return nil, argError("core.fields", i, err)
		}
		out[key] = args[i+1]
	}
	return out, nil
}

func unaryString(path string, fn func(string) string) Func {
	return func(_ context.Context, args []any) (any, error) {
		if err := arity(path, args, 1); err != nil {
			return nil, err
		}
		s, err := cast.ToStringE(args[0])
		if err != nil {
			return nil, argError(path, 0, err)
		}
		return fn(s), nil
	}
}

// fold reduces args left to right. The result is an int when every argument
// is an integer; integer overflow is an error rather than a wrapped value.
func fold(path string, args []any, ints func(a, b int64) (int64, bool), floats func(a, b float64) float64) (any, error) {
	if allIntegers(args) {
		acc, err := toInt64(path, 0, args[0])
		if err != nil {
			return nil, err
		}
		for i, a := range args[1:] {
			n, err := toInt64(path, i+1, a)
			if err != nil {
				return nil, err
			}
			var ok bool
			if acc, ok = ints(acc, n); !ok {
				return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s: integer overflow", path)
			}
		}
		return int(acc), nil
	}

	acc, err := cast.ToFloat64E(args[0])
	if err != nil {
		return nil, argError(path, 0, err)
	}
	for i, a := range args[1:] {
		f, err := cast.ToFloat64E(a)
		if err != nil {
			return nil, argError(path, i+1, err)
		}
		acc = floats(acc, f)
	}
	return acc, nil
}

func toInt64(path string, i int, v any) (int64, error) {
	switch u := v.(type) {
	case uint:
		if uint64(u) > math.MaxInt64 {
			return 0, schema.NewErrorf(schema.ErrCodeExecution, "%s: argument %d overflows int64", path, i)
		}
	case uint64:
		if u > math.MaxInt64 {
			return 0, schema.NewErrorf(schema.ErrCodeExecution, "%s: argument %d overflows int64", path, i)
		}
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, argError(path, i, err)
	}
	return n, nil
}

func addInt(a, b int64) (int64, bool) {
	c := a + b
	return c, (c > a) == (b > 0)
}

func subInt(a, b int64) (int64, bool) {
	c := a - b
	return c, (c < a) == (b > 0)
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) || c/b != a {
		return c, false
	}
	return c, true
}

func allIntegers(args []any) bool {
	for _, a := range args {
		switch a.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		default:
			return false
		}
	}
	return true
}

func toStrings(path string, args []any) ([]string, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		s, err := cast.ToStringE(a)
		if err != nil {
			return nil, argError(path, i, err)
		}
		parts[i] = s
	}
	return parts, nil
}

func arity(path string, args []any, n int) error {
	if len(args) != n {
		return schema.NewErrorf(schema.ErrCodeExecution, "%s: expected %d arguments, got %d", path, n, len(args))
	}
	return nil
}

func minArity(path string, args []any, n int) error {
	if len(args) < n {
		return schema.NewErrorf(schema.ErrCodeExecution, "%s: expected at least %d arguments, got %d", path, n, len(args))
	}
	return nil
}

func argError(path string, i int, err error) error {
	return schema.NewError(schema.ErrCodeExecution, fmt.Sprintf("%s: argument %d: %s", path, i, err.Error())).WithCause(err)
}
