package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/rendis/graphcompose/internal/operations"
	"github.com/rendis/graphcompose/internal/pointer"
	"github.com/rendis/graphcompose/pkg/schema"
)

// Edge is one positional argument of a node: the value at Pointer inside the
// normalized output of Source.
type Edge struct {
	Source  string `json:"source"`
	Pointer string `json:"pointer"`
}

// ExecutionGraph is the compiled form of a graph document. It is read-only
// after Build and can be shared by concurrent evaluation passes.
type ExecutionGraph struct {
	Name         string
	Operations   map[string]operations.Operation
	Dependencies map[string][]Edge
	// Inputs holds the initial-data defaults, before run overrides.
	Inputs map[string]any
	// OutputKey is the canonical field input nodes emit and bare bindings address.
	OutputKey string

	order      []string
	inputNodes map[string]bool
}

// Nodes returns every node name: input nodes (sorted), the aggregate inputs
// node, then operations in declaration order.
func (g *ExecutionGraph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// IsInput reports whether node is a synthetic initial-data node.
func (g *ExecutionGraph) IsInput(node string) bool {
	return g.inputNodes[node]
}

// Has reports whether node exists.
func (g *ExecutionGraph) Has(node string) bool {
	_, ok := g.Operations[node]
	return ok
}

type buildConfig struct {
	outputKey      string
	defaultPointer string
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// WithOutputKey sets the canonical output field. The default pointer follows it
// unless WithDefaultPointer is also given.
func WithOutputKey(key string) BuildOption {
	return func(c *buildConfig) {
		if key != "" {
			c.outputKey = key
			c.defaultPointer = pointer.Join(key)
		}
	}
}

// WithDefaultPointer sets the pointer used for bare node references.
func WithDefaultPointer(p string) BuildOption {
	return func(c *buildConfig) {
		if p != "" {
			c.defaultPointer = p
		}
	}
}

// Build compiles def into an ExecutionGraph, resolving each distinct
// operation path once through resolver.
//
// Each initial-data entry becomes a zero-dependency node yielding
// {outputKey: value}. When there is at least one entry, a node named
// "inputs" yields the whole mapping.
func Build(def *schema.GraphDefinition, resolver operations.Resolver, opts ...BuildOption) (*ExecutionGraph, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph definition is nil")
	}
	if resolver == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "operation resolver is nil")
	}

	cfg := buildConfig{outputKey: schema.DefaultOutputKey, defaultPointer: schema.DefaultOutputPointer}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := pointer.Validate(cfg.defaultPointer); err != nil {
		return nil, err
	}

	g := &ExecutionGraph{
		Name:         def.Metadata.Name,
		Operations:   make(map[string]operations.Operation, len(def.Spec.Operations)+len(def.Spec.Inputs)+1),
		Dependencies: make(map[string][]Edge, len(def.Spec.Dependencies)),
		Inputs:       make(map[string]any, len(def.Spec.Inputs)),
		OutputKey:    cfg.outputKey,
		inputNodes:   make(map[string]bool, len(def.Spec.Inputs)+1),
	}

	define := func(name string, op operations.Operation, what string) error {
		if name == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "%s has an empty name", what)
		}
		if _, exists := g.Operations[name]; exists {
			if name == schema.DefaultInputsNode && len(def.Spec.Inputs) > 0 {
				return aggregateClash(what).WithNode(name)
			}
			return schema.NewErrorf(schema.ErrCodeDuplicateNode, "node %q is defined more than once", name).
				WithNode(name)
		}
		g.Operations[name] = op
		g.order = append(g.order, name)
		return nil
	}

	// Initial data.
	keys := make([]string, 0, len(def.Spec.Inputs))
	for k := range def.Spec.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		g.Inputs[k] = def.Spec.Inputs[k]
		if err := define(k, &inputOperation{key: k, value: def.Spec.Inputs[k], outputKey: cfg.outputKey}, "input"); err != nil {
			return nil, err
		}
		g.inputNodes[k] = true
	}
	if len(keys) > 0 {
		if _, clash := g.Operations[schema.DefaultInputsNode]; clash {
			return nil, aggregateClash("input key").WithNode(schema.DefaultInputsNode)
		}
		if err := define(schema.DefaultInputsNode, &inputsOperation{defaults: g.Inputs}, "input"); err != nil {
			return nil, err
		}
		g.inputNodes[schema.DefaultInputsNode] = true
	}

	// Operations.
	resolved := make(map[string]operations.Operation, len(def.Spec.Operations))
	for i, od := range def.Spec.Operations {
		op, ok := resolved[od.Function]
		if !ok {
			var err error
			op, err = resolver.Resolve(od.Function)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeOperationLoad,
					"operation %q (spec.operations[%d]) cannot load %q", od.Name, i, od.Function).
					WithNode(od.Name).
					WithCause(err)
			}
			resolved[od.Function] = op
		}
		if err := define(od.Name, op, fmt.Sprintf("spec.operations[%d]", i)); err != nil {
			return nil, err
		}
	}

	// Dependencies.
	for i, dep := range def.Spec.Dependencies {
		if _, ok := g.Operations[dep.Name]; !ok || g.inputNodes[dep.Name] {
			return nil, schema.NewErrorf(schema.ErrCodeUnknownOperation,
				"spec.dependencies[%d] feeds undeclared operation %q", i, dep.Name).
				WithNode(dep.Name)
		}
		if _, dup := g.Dependencies[dep.Name]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeDuplicateNode,
				"dependencies for %q are declared more than once", dep.Name).
				WithNode(dep.Name)
		}

		edges := make([]Edge, 0, len(dep.Inputs))
		for j, in := range dep.Inputs {
			if _, ok := g.Operations[in.Node]; !ok {
				return nil, schema.NewErrorf(schema.ErrCodeUnknownOperation,
					"spec.dependencies[%d].inputs[%d] references undeclared node %q", i, j, in.Node).
					WithNode(dep.Name).
					WithDetails(map[string]any{"source": in.Node})
			}
			p := in.Pointer
			if !in.HasPointer() {
				p = cfg.defaultPointer
			}
			if err := pointer.Validate(p); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodePointerResolution,
					"spec.dependencies[%d].inputs[%d] has an invalid pointer %q", i, j, p).
					WithNode(dep.Name).
					WithCause(err)
			}
			edges = append(edges, Edge{Source: in.Node, Pointer: p})
		}
		g.Dependencies[dep.Name] = edges
	}

	return g, nil
}

// ValidateOverrides rejects override keys that are not initial-data entries.
func (g *ExecutionGraph) ValidateOverrides(overrides map[string]any) error {
	var unknown []string
	for k := range overrides {
		if _, ok := g.Inputs[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return schema.NewErrorf(schema.ErrCodeValidation, "unknown input override(s): %v", unknown).
		WithDetails(map[string]any{"unknown": unknown})
}

type overridesKey struct{}

// WithOverrides returns a context carrying run-level values for initial-data
// nodes. Input nodes prefer these over their defaults.
func WithOverrides(ctx context.Context, overrides map[string]any) context.Context {
	if len(overrides) == 0 {
		return ctx
	}
	return context.WithValue(ctx, overridesKey{}, overrides)
}

// OverridesFrom returns the overrides carried by ctx, or nil.
func OverridesFrom(ctx context.Context) map[string]any {
	v, _ := ctx.Value(overridesKey{}).(map[string]any)
	return v
}

// inputOperation yields one initial-data entry.
type inputOperation struct {
	key       string
	value     any
	outputKey string
}

func (o *inputOperation) Invoke(ctx context.Context, _ []any) (any, error) {
	v := o.value
	if ov, ok := OverridesFrom(ctx)[o.key]; ok {
		v = ov
	}
	return operations.Outputs{o.outputKey: v}, nil
}

// inputsOperation yields every initial-data entry as named fields.
type inputsOperation struct {
	defaults map[string]any
}

func (o *inputsOperation) Invoke(ctx context.Context, _ []any) (any, error) {
	out := make(operations.Outputs, len(o.defaults))
	overrides := OverridesFrom(ctx)
	for k, v := range o.defaults {
		if ov, ok := overrides[k]; ok {
			v = ov
		}
		out[k] = v
	}
	return out, nil
}

func aggregateClash(what string) *schema.GraphError {
	return schema.NewErrorf(schema.ErrCodeDuplicateNode,
		"%s %q collides with the aggregate inputs node", what, schema.DefaultInputsNode)
}
