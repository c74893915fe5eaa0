package operations

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/graphcompose/pkg/schema"
)

type registered struct {
	op          Operation
	description string
}

type scheme struct {
	factory     SchemeFactory
	description string
}

// Registry is the thread-safe Resolver implementation. Dotted paths are looked
// up in a table; "scheme:body" paths are compiled by the scheme's factory.
type Registry struct {
	mu         sync.RWMutex
	ops        map[string]registered
	namespaces map[string]int
	schemes    map[string]scheme
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		ops:        make(map[string]registered),
		namespaces: make(map[string]int),
		schemes:    make(map[string]scheme),
	}
}

// Register adds op under a dotted path such as "math.add".
// Returns error on duplicate path.
func (r *Registry) Register(path string, op Operation, description string) error {
	if op == nil {
		return schema.NewError(schema.ErrCodeValidation, "operation is nil")
	}
	ns, _, err := splitPath(path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[path]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "operation %q already registered", path)
	}
	r.ops[path] = registered{op: op, description: description}
	r.namespaces[ns]++
	return nil
}

// RegisterFunc is Register for a plain function.
func (r *Registry) RegisterFunc(path string, fn Func, description string) error {
	if fn == nil {
		return schema.NewError(schema.ErrCodeValidation, "operation is nil")
	}
	return r.Register(path, fn, description)
}

// RegisterNamespace bulk-registers entries under prefix.
// Each entry path becomes "prefix.name" (e.g. "strings.upper").
func (r *Registry) RegisterNamespace(prefix string, entries []Entry) (int, error) {
	if prefix == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "namespace prefix is empty")
	}

	registered := 0
	for _, e := range entries {
		if err := r.Register(prefix+"."+e.Name, e.Op, e.Description); err != nil {
			return registered, err
		}
		registered++
	}
	return registered, nil
}

// RegisterScheme installs factory for paths of the form "name:body".
func (r *Registry) RegisterScheme(name string, factory SchemeFactory, description string) error {
	if name == "" || strings.ContainsAny(name, ".: ") {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid scheme name %q", name)
	}
	if factory == nil {
		return schema.NewError(schema.ErrCodeValidation, "scheme factory is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemes[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheme %q already registered", name)
	}
	r.schemes[name] = scheme{factory: factory, description: description}
	return nil
}

// Resolve returns the operation for path. It fails with OPERATION_LOAD_ERROR
// when the namespace is unknown, the symbol is missing from a known namespace,
// or a scheme body does not compile.
func (r *Registry) Resolve(path string) (Operation, error) {
	if name, body, ok := cutScheme(path); ok {
		r.mu.RLock()
		s, found := r.schemes[name]
		r.mu.RUnlock()
		if !found {
			return nil, loadError(path, fmt.Sprintf("unknown operation scheme %q", name)).
				WithDetails(map[string]any{"path": path, "scheme": name})
		}
		op, err := s.factory(body)
		if err != nil {
			return nil, loadError(path, fmt.Sprintf("%s operation does not compile", name)).
				WithDetails(map[string]any{"path": path, "scheme": name}).
				WithCause(err)
		}
		return op, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if reg, ok := r.ops[path]; ok {
		return reg.op, nil
	}

	ns, symbol, err := splitPath(path)
	if err != nil {
		return nil, loadError(path, "invalid operation path").WithCause(err)
	}
	if r.namespaces[ns] == 0 {
		return nil, loadError(path, fmt.Sprintf("namespace %q not found", ns)).
			WithDetails(map[string]any{"path": path, "namespace": ns})
	}
	return nil, loadError(path, fmt.Sprintf("symbol %q not found in namespace %q", symbol, ns)).
		WithDetails(map[string]any{"path": path, "namespace": ns, "symbol": symbol})
}

// Has reports whether path names a registered operation or uses a registered scheme.
// It does not compile scheme bodies.
func (r *Registry) Has(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, _, ok := cutScheme(path); ok {
		_, found := r.schemes[name]
		return found
	}
	_, ok := r.ops[path]
	return ok
}

// List returns info for all registered operations and schemes, sorted by path.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.ops)+len(r.schemes))
	for path, reg := range r.ops {
		ns, _, _ := splitPath(path)
		infos = append(infos, Info{
			Path:        path,
			Namespace:   ns,
			Kind:        KindFunction,
			Description: reg.description,
		})
	}
	for name, s := range r.schemes {
		infos = append(infos, Info{
			Path:        name + ":",
			Namespace:   name,
			Kind:        KindScheme,
			Description: s.description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Path < infos[j].Path
	})
	return infos
}

// Count returns the number of registered operations, excluding schemes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

func loadError(path, msg string) *schema.GraphError {
	return schema.NewErrorf(schema.ErrCodeOperationLoad, "cannot load %q: %s", path, msg)
}

// splitPath splits "a.b.c" into namespace "a.b" and symbol "c".
func splitPath(path string) (string, string, error) {
	i := strings.LastIndex(path, ".")
	if i <= 0 || i == len(path)-1 {
		return "", "", schema.NewErrorf(schema.ErrCodeValidation, "operation path %q must be namespace.symbol", path)
	}
	return path[:i], path[i+1:], nil
}

// cutScheme splits "expr:args[0]" into "expr" and "args[0]". A scheme name
// contains no dots, so "pkg.mod:fn" is not treated as a scheme.
func cutScheme(path string) (string, string, bool) {
	name, body, ok := strings.Cut(path, ":")
	if !ok || name == "" || strings.ContainsAny(name, ". ") {
		return "", "", false
	}
	return name, strings.TrimSpace(body), true
}
