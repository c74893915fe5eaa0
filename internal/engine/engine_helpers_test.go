package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/graphcompose/internal/operations"
	"github.com/rendis/graphcompose/pkg/schema"
)

// --- helpers ---

func op(name, function string) schema.OperationDef {
	return schema.OperationDef{Name: name, Function: function}
}

func dep(name string, inputs ...schema.InputBinding) schema.DependencyDefinition {
	return schema.DependencyDefinition{Name: name, Inputs: inputs}
}

func graphDef(inputs map[string]any, ops []schema.OperationDef, deps ...schema.DependencyDefinition) *schema.GraphDefinition {
	return &schema.GraphDefinition{
		APIVersion: schema.APIVersion,
		Kind:       schema.KindComposableGraph,
		Metadata:   schema.Metadata{Name: "test graph"},
		Spec: schema.GraphSpec{
			Inputs:       inputs,
			Operations:   ops,
			Dependencies: deps,
		},
	}
}

// counter counts invocations per operation label.
type counter struct {
	mu    sync.Mutex
	calls map[string]int
	order []string
}

func newCounter() *counter {
	return &counter{calls: make(map[string]int)}
}

func (c *counter) wrap(label string, fn operations.Func) operations.Func {
	return func(ctx context.Context, args []any) (any, error) {
		c.mu.Lock()
		c.calls[label]++
		c.order = append(c.order, label)
		c.mu.Unlock()
		return fn(ctx, args)
	}
}

func (c *counter) count(label string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[label]
}

// testRegistry returns the default registry plus the ops used across tests
// under the "test" namespace.
func testRegistry(t *testing.T, c *counter) *operations.Registry {
	t.Helper()
	reg, err := operations.NewDefaultRegistry()
	require.NoError(t, err)

	if c == nil {
		c = newCounter()
	}
	funcs := map[string]operations.Func{
		"constant_five": func(context.Context, []any) (any, error) { return 5, nil },
		"double": func(_ context.Context, args []any) (any, error) {
			return args[0].(int) * 2, nil
		},
		"times_ten": func(_ context.Context, args []any) (any, error) {
			return args[0].(int) * 10, nil
		},
		"split_sum": func(_ context.Context, args []any) (any, error) {
			a, b := args[0].(int), args[1].(int)
			return operations.Outputs{"sum": a + b, "diff": a - b}, nil
		},
		"collect": func(_ context.Context, args []any) (any, error) {
			out := make([]any, len(args))
			copy(out, args)
			return out, nil
		},
		"fail": func(context.Context, []any) (any, error) {
			return nil, fmt.Errorf("boom")
		},
		"panic": func(context.Context, []any) (any, error) {
			panic("kaboom")
		},
		"nested": func(context.Context, []any) (any, error) {
			return map[string]any{"outer": map[string]any{"inner": 7}}, nil
		},
	}
	for name, fn := range funcs {
		require.NoError(t, reg.RegisterFunc("test."+name, c.wrap(name, fn), ""))
	}
	return reg
}

func mustBuild(t *testing.T, def *schema.GraphDefinition, reg operations.Resolver, opts ...BuildOption) *ExecutionGraph {
	t.Helper()
	g, err := Build(def, reg, opts...)
	require.NoError(t, err)
	return g
}
