package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/rendis/graphcompose/internal/logging"
	"github.com/rendis/graphcompose/internal/pointer"
	"github.com/rendis/graphcompose/pkg/schema"
)

// Observer receives node lifecycle events during evaluation.
// Calls happen on the evaluating goroutine, one node at a time.
type Observer interface {
	NodeStarted(ctx context.Context, node string, args []any)
	NodeFinished(ctx context.Context, node string, record ResultRecord, err error, elapsed time.Duration)
}

// Evaluator walks an ExecutionGraph, invoking each node once per pass.
type Evaluator struct {
	normalizer Normalizer
	logger     *slog.Logger
	observer   Observer
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithNormalizer sets the output normalizer.
func WithNormalizer(n Normalizer) EvaluatorOption {
	return func(e *Evaluator) { e.normalizer = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver sets the node lifecycle observer.
func WithObserver(o Observer) EvaluatorOption {
	return func(e *Evaluator) { e.observer = o }
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		normalizer: NewNormalizer(schema.DefaultOutputKey),
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs one pass over every node of g and returns all records.
//
// Overrides carried by ctx (see WithOverrides) replace initial-data values and
// must name existing inputs. On failure the records memoized so far are
// returned with the error; they are for diagnostics only.
func (e *Evaluator) Evaluate(ctx context.Context, g *ExecutionGraph) (Results, error) {
	p, err := e.newPass(ctx, g)
	if err != nil {
		return nil, err
	}
	for _, node := range g.order {
		if err := p.visit(node); err != nil {
			return p.memo, err
		}
	}
	return p.memo, nil
}

// EvaluateNode runs a pass restricted to target and its transitive dependencies.
func (e *Evaluator) EvaluateNode(ctx context.Context, g *ExecutionGraph, target string) (Results, error) {
	p, err := e.newPass(ctx, g)
	if err != nil {
		return nil, err
	}
	if !g.Has(target) {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownOperation, "node %q is not in the graph", target).
			WithNode(target)
	}
	if err := p.visit(target); err != nil {
		return p.memo, err
	}
	return p.memo, nil
}

func (e *Evaluator) newPass(ctx context.Context, g *ExecutionGraph) (*pass, error) {
	if g == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "execution graph is nil")
	}
	if err := g.ValidateOverrides(OverridesFrom(ctx)); err != nil {
		return nil, err
	}
	return &pass{
		ev:         e,
		ctx:        ctx,
		g:          g,
		memo:       make(Results, len(g.Operations)),
		inProgress: make(map[string]bool),
	}, nil
}

// pass holds the per-evaluation state. It is never shared.
type pass struct {
	ev         *Evaluator
	ctx        context.Context
	g          *ExecutionGraph
	memo       Results
	inProgress map[string]bool
}

type frame struct {
	node string
	next int
	args []any
}

// visit evaluates root depth-first using an explicit stack. A node is marked
// in progress when pushed and memoized when popped, so meeting an in-progress
// node again means the dependency relation has a cycle.
func (p *pass) visit(root string) error {
	if _, done := p.memo[root]; done {
		return nil
	}

	p.inProgress[root] = true
	stack := []*frame{{node: root}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		edges := p.g.Dependencies[f.node]

		if f.next < len(edges) {
			edge := edges[f.next]
			rec, done := p.memo[edge.Source]
			if !done {
				if p.inProgress[edge.Source] {
					return cycleError(stack, edge.Source)
				}
				if !p.g.Has(edge.Source) {
					return schema.NewErrorf(schema.ErrCodeUnknownOperation,
						"node %q depends on undeclared node %q", f.node, edge.Source).
						WithNode(f.node)
				}
				p.inProgress[edge.Source] = true
				stack = append(stack, &frame{node: edge.Source})
				continue
			}

			v, err := pointer.Resolve(rec, edge.Pointer)
			if err != nil {
				return schema.NewErrorf(schema.ErrCodePointerResolution,
					"argument %d: cannot resolve %q in output of %q", f.next, edge.Pointer, edge.Source).
					WithNode(f.node).
					WithCause(err).
					WithDetails(map[string]any{"source": edge.Source, "pointer": edge.Pointer, "argument": f.next})
			}
			f.args = append(f.args, v)
			f.next++
			continue
		}

		rec, err := p.invoke(f.node, f.args)
		if err != nil {
			return err
		}
		p.memo[f.node] = rec
		delete(p.inProgress, f.node)
		stack = stack[:len(stack)-1]
	}
	return nil
}

func (p *pass) invoke(node string, args []any) (rec ResultRecord, err error) {
	if err := p.ctx.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCancelled, "evaluation cancelled before %q", node).
			WithNode(node).
			WithCause(err)
	}

	op, ok := p.g.Operations[node]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownOperation, "node %q is not in the graph", node).
			WithNode(node)
	}

	ctx := logging.WithNode(p.ctx, node)
	logger := logging.LogWith(ctx, p.ev.logger)
	if p.ev.observer != nil {
		p.ev.observer.NodeStarted(ctx, node, args)
	}
	logger.Debug("node started", slog.Int("args", len(args)))

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = schema.NewErrorf(schema.ErrCodeExecution, "operation panicked: %v", r).WithNode(node)
		}
		elapsed := time.Since(start)
		if err != nil {
			logger.Error("node failed", slog.Duration("elapsed", elapsed), slog.String("error", err.Error()))
		} else {
			logger.Debug("node completed", slog.Duration("elapsed", elapsed))
		}
		if p.ev.observer != nil {
			p.ev.observer.NodeFinished(ctx, node, rec, err, elapsed)
		}
	}()

	raw, invokeErr := op.Invoke(ctx, args)
	if invokeErr != nil {
		return nil, operationError(ctx, node, invokeErr)
	}
	return p.ev.normalizer.Normalize(raw), nil
}

func operationError(ctx context.Context, node string, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return schema.NewErrorf(schema.ErrCodeCancelled, "evaluation cancelled in %q", node).
			WithNode(node).
			WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeExecution, "operation failed: %s", err.Error()).
		WithNode(node).
		WithCause(err)
}

// cycleError names the path from the first occurrence of node on the stack
// back to node, e.g. "a -> b -> a".
func cycleError(stack []*frame, node string) error {
	start := 0
	for i, f := range stack {
		if f.node == node {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, f.node)
	}
	path = append(path, node)

	return schema.NewErrorf(schema.ErrCodeCycleDetected, "dependency cycle: %s", strings.Join(path, " -> ")).
		WithNode(node).
		WithDetails(map[string]any{"cycle": path})
}
