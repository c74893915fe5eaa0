// Package logging carries correlation IDs (graph, run, node) through contexts
// and into slog records.
package logging

import (
	"context"
	"log/slog"
	"strings"
)

type ctxKey int

const (
	graphNameKey ctxKey = iota
	runIDKey
	nodeKey
)

// Attribute names used on log records.
const (
	AttrGraph = "graph"
	AttrRunID = "run_id"
	AttrNode  = "node"
)

// WithGraphName returns a context with the graph name set.
func WithGraphName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, graphNameKey, name)
}

// WithRunID returns a context with the run ID set.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithNode returns a context with the node name set.
func WithNode(ctx context.Context, node string) context.Context {
	return context.WithValue(ctx, nodeKey, node)
}

// GraphName extracts the graph name from the context, or "" if absent.
func GraphName(ctx context.Context) string {
	v, _ := ctx.Value(graphNameKey).(string)
	return v
}

// RunID extracts the run ID from the context, or "" if absent.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// Node extracts the node name from the context, or "" if absent.
func Node(ctx context.Context) string {
	v, _ := ctx.Value(nodeKey).(string)
	return v
}

// WithIDs sets the graph name and run ID at once.
func WithIDs(ctx context.Context, graphName, runID string) context.Context {
	ctx = WithGraphName(ctx, graphName)
	ctx = WithRunID(ctx, runID)
	return ctx
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := GraphName(ctx); v != "" {
		attrs = append(attrs, slog.String(AttrGraph, v))
	}
	if v := RunID(ctx); v != "" {
		attrs = append(attrs, slog.String(AttrRunID, v))
	}
	if v := Node(ctx); v != "" {
		attrs = append(attrs, slog.String(AttrNode, v))
	}
	return attrs
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// ParseLevel maps debug|info|warn|error to a slog level. Unknown values yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
