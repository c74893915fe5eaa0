// Package runner executes graph definitions end to end: validation, build,
// evaluation and optional persistence of the run history.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/graphcompose/internal/engine"
	"github.com/rendis/graphcompose/internal/logging"
	"github.com/rendis/graphcompose/internal/naming"
	"github.com/rendis/graphcompose/internal/operations"
	"github.com/rendis/graphcompose/internal/store"
	"github.com/rendis/graphcompose/internal/streaming"
	"github.com/rendis/graphcompose/internal/validation"
	"github.com/rendis/graphcompose/pkg/schema"
)

// RunOptions parameterize a single run.
type RunOptions struct {
	// Overrides replace initial-data values for this run only.
	Overrides map[string]any
	// RunID is generated when empty.
	RunID string
}

// RunResult is the outcome of a run that reached evaluation.
type RunResult struct {
	RunID       string             `json:"run_id"`
	GraphName   string             `json:"graph_name"`
	JobName     string             `json:"job_name"`
	Status      store.RunStatus    `json:"status"`
	Records     engine.Results     `json:"records,omitempty"`
	Error       *schema.GraphError `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Err returns the run error, or nil when the run completed.
func (r *RunResult) Err() error {
	if r == nil || r.Error == nil {
		return nil
	}
	return r.Error
}

// Runner validates, builds and evaluates graph definitions.
type Runner struct {
	resolver  operations.Resolver
	validator *validation.GraphValidator
	store     store.Store
	events    *store.EventLog
	hub       streaming.EventHub
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore persists runs, node results and events to s.
func WithStore(s store.Store) Option {
	return func(r *Runner) {
		r.store = s
		if s != nil {
			r.events = store.NewEventLog(s)
		}
	}
}

// WithHub publishes run and node events to h as they happen.
func WithHub(h streaming.EventHub) Option {
	return func(r *Runner) { r.hub = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Runner resolving operation paths through resolver.
func New(resolver operations.Resolver, opts ...Option) (*Runner, error) {
	if resolver == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "operation resolver is nil")
	}
	v, err := validation.NewGraphValidator(resolver)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		resolver:  resolver,
		validator: v,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Store returns the configured store, or nil.
func (r *Runner) Store() store.Store { return r.store }

// Validate runs the validation pipeline on def.
func (r *Runner) Validate(def *schema.GraphDefinition) *schema.ValidationResult {
	return r.validator.Validate(def)
}

// Prepare validates def and builds its execution graph.
func (r *Runner) Prepare(def *schema.GraphDefinition) (*engine.ExecutionGraph, error) {
	if err := r.validator.ValidateDefinition(def); err != nil {
		return nil, err
	}
	return engine.Build(def, r.resolver)
}

// Run validates and evaluates def once.
//
// Validation and build failures are returned as errors and nothing is
// persisted. Once evaluation starts, failures are reported in the result
// with Status failed and a nil error.
func (r *Runner) Run(ctx context.Context, def *schema.GraphDefinition, opts RunOptions) (*RunResult, error) {
	g, err := r.Prepare(def)
	if err != nil {
		return nil, err
	}
	if err := r.validator.ValidateOverrides(def, opts.Overrides); err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	result := &RunResult{
		RunID:     runID,
		GraphName: def.Metadata.Name,
		JobName:   naming.ToSnakeCase(def.Metadata.Name),
		Status:    store.RunStatusPending,
	}

	ctx = logging.WithIDs(ctx, result.GraphName, runID)
	logger := logging.LogWith(ctx, r.logger)
	// History writes outlive a cancelled evaluation.
	persistCtx := context.WithoutCancel(ctx)

	evalOpts := []engine.EvaluatorOption{engine.WithLogger(r.logger)}
	var rec *recorder
	if r.store != nil || r.hub != nil {
		rec = newRecorder(runID, result.GraphName, r.store, r.events, r.hub, r.logger)
		evalOpts = append(evalOpts, engine.WithObserver(rec))
	}
	if r.store != nil {
		if err := r.store.CreateRun(persistCtx, &store.Run{
			ID:        runID,
			GraphName: result.GraphName,
			JobName:   result.JobName,
			Status:    store.RunStatusPending,
			Overrides: opts.Overrides,
			Tags:      def.Metadata.Annotations,
		}); err != nil {
			return nil, storeError("create run", err)
		}
	}

	result.StartedAt = time.Now().UTC()
	if err := r.advance(persistCtx, rec, result, store.RunStatusRunning, store.RunUpdate{StartedAt: &result.StartedAt}); err != nil {
		return nil, err
	}
	logger.Info("run started", slog.Int("nodes", len(g.Nodes())))

	records, evalErr := engine.NewEvaluator(evalOpts...).Evaluate(engine.WithOverrides(ctx, opts.Overrides), g)
	result.Records = records
	result.CompletedAt = time.Now().UTC()

	update := store.RunUpdate{CompletedAt: &result.CompletedAt}
	next := store.RunStatusCompleted
	if evalErr != nil {
		next = store.RunStatusFailed
		result.Error = asGraphError(evalErr)
		update.Error = errorJSON(result.Error)
	} else {
		update.Output = marshalOrNil(records)
	}

	if err := r.advance(persistCtx, rec, result, next, update); err != nil {
		return result, err
	}

	elapsed := slog.Duration("elapsed", result.CompletedAt.Sub(result.StartedAt))
	if result.Error != nil {
		logger.Error("run failed", elapsed, slog.String("code", result.Error.Code), slog.String("error", result.Error.Error()))
	} else {
		logger.Info("run completed", elapsed, slog.Int("records", len(records)))
	}

	if rec != nil {
		if err := rec.err(); err != nil {
			return result, storeError("record node state", err)
		}
	}
	return result, nil
}

// advance moves result to status next. The move is persisted when a store is
// set and published when a hub is set.
func (r *Runner) advance(ctx context.Context, rec *recorder, result *RunResult, next store.RunStatus, update store.RunUpdate) error {
	if r.store != nil {
		if err := transition(ctx, r.store, r.events, result.RunID, result.Status, next, update); err != nil {
			return err
		}
	}
	result.Status = next
	if rec != nil {
		var payload any
		if result.Error != nil {
			payload = result.Error
		}
		rec.publish(ctx, "", runEventType(next), payload)
	}
	return nil
}

// Output returns the records of a completed run as JSON.
func (r *RunResult) Output() (json.RawMessage, error) {
	return json.Marshal(r.Records)
}

func asGraphError(err error) *schema.GraphError {
	var gErr *schema.GraphError
	if errors.As(err, &gErr) {
		return gErr
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
}

func storeError(action string, err error) error {
	if schema.IsCode(err, schema.ErrCodeStore) {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", action, err.Error()).WithCause(err)
}
