package validation

import (
	"context"
	"sync"

	"github.com/rendis/graphcompose/internal/operations"
	"github.com/rendis/graphcompose/pkg/schema"
)

// stubResolver resolves a fixed set of operation paths.
type stubResolver struct {
	mu    sync.Mutex
	known map[string]bool
	calls map[string]int
}

func newStubResolver(paths ...string) *stubResolver {
	r := &stubResolver{known: make(map[string]bool), calls: make(map[string]int)}
	for _, p := range paths {
		r.known[p] = true
	}
	return r
}

func (r *stubResolver) Resolve(path string) (operations.Operation, error) {
	r.mu.Lock()
	r.calls[path]++
	r.mu.Unlock()
	if !r.known[path] {
		return nil, schema.NewErrorf(schema.ErrCodeOperationLoad, "cannot load %q", path)
	}
	return operations.Func(func(context.Context, []any) (any, error) { return nil, nil }), nil
}

func opDef(name, function string) schema.OperationDef {
	return schema.OperationDef{Name: name, Function: function}
}

func depDef(name string, inputs ...schema.InputBinding) schema.DependencyDefinition {
	return schema.DependencyDefinition{Name: name, Inputs: inputs}
}

func graphDef(inputs map[string]any, ops []schema.OperationDef, deps ...schema.DependencyDefinition) *schema.GraphDefinition {
	if ops == nil {
		ops = []schema.OperationDef{}
	}
	return &schema.GraphDefinition{
		APIVersion: schema.APIVersion,
		Kind:       schema.KindComposableGraph,
		Metadata:   schema.Metadata{Name: "validation-test"},
		Spec: schema.GraphSpec{
			Inputs:       inputs,
			Operations:   ops,
			Dependencies: deps,
		},
	}
}

// multiplyGraph is a valid graph: multiply <- [x, y].
func multiplyGraph() *schema.GraphDefinition {
	return graphDef(map[string]any{"x": 4, "y": 25},
		[]schema.OperationDef{opDef("multiply", "math.multiply")},
		depDef("multiply", schema.Ref("x"), schema.Ref("y")),
	)
}
