// Package operations resolves symbolic paths ("math.multiply", "expr:args[0] * 2")
// to callable operations.
package operations

import "context"

// Operation is a callable unit of work backing one graph node.
// Args arrive in the declared dependency order. They may be values held in
// upstream records, so operations must not mutate them.
type Operation interface {
	Invoke(ctx context.Context, args []any) (any, error)
}

// Func adapts a plain function to Operation.
type Func func(ctx context.Context, args []any) (any, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, args []any) (any, error) {
	return f(ctx, args)
}

// Outputs is a named-field return value. It is kept as-is by the normalizer,
// so downstream bindings can address each field by pointer.
type Outputs map[string]any

// Resolver turns a symbolic path into an Operation.
type Resolver interface {
	Resolve(path string) (Operation, error)
}

// SchemeFactory builds an operation from the body of a "scheme:body" path.
// It should fail when the body does not compile.
type SchemeFactory func(body string) (Operation, error)

// Entry is one operation registered under a namespace.
type Entry struct {
	Name        string
	Op          Operation
	Description string
}

// Info summarizes a registered operation for listing.
type Info struct {
	Path        string `json:"path"`
	Namespace   string `json:"namespace"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}

// Info kinds.
const (
	KindFunction = "function"
	KindScheme   = "scheme"
)
