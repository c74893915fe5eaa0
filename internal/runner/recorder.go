package runner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/graphcompose/internal/engine"
	"github.com/rendis/graphcompose/internal/logging"
	"github.com/rendis/graphcompose/internal/store"
	"github.com/rendis/graphcompose/internal/streaming"
	"github.com/rendis/graphcompose/pkg/schema"
)

// recorder persists and publishes node lifecycle events of a single run.
// Either sink may be nil. Persistence is best-effort: failures are logged
// and the first one is kept.
type recorder struct {
	runID     string
	graphName string
	store     store.Store
	events    *store.EventLog
	hub       streaming.EventHub
	logger    *slog.Logger

	mu       sync.Mutex
	started  map[string]time.Time
	firstErr error
}

var _ engine.Observer = (*recorder)(nil)

func newRecorder(runID, graphName string, s store.Store, events *store.EventLog, hub streaming.EventHub, logger *slog.Logger) *recorder {
	return &recorder{
		runID:     runID,
		graphName: graphName,
		store:     s,
		events:    events,
		hub:       hub,
		logger:    logger,
		started:   make(map[string]time.Time),
	}
}

func (r *recorder) NodeStarted(ctx context.Context, node string, args []any) {
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()

	r.mu.Lock()
	r.started[node] = now
	r.mu.Unlock()

	rawArgs := marshalOrNil(args)
	payload := store.NodePayload{Args: rawArgs}
	if r.store != nil {
		r.keep(ctx, r.store.UpsertNodeResult(ctx, &store.NodeResult{
			RunID:     r.runID,
			Node:      node,
			Status:    store.NodeStatusRunning,
			Args:      rawArgs,
			StartedAt: &now,
		}))
		_, err := r.events.Append(ctx, r.runID, node, store.EventNodeStarted, payload)
		r.keep(ctx, err)
	}
	r.publish(ctx, node, store.EventNodeStarted, payload)
}

func (r *recorder) NodeFinished(ctx context.Context, node string, record engine.ResultRecord, err error, elapsed time.Duration) {
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()

	r.mu.Lock()
	startedAt, ok := r.started[node]
	r.mu.Unlock()

	result := &store.NodeResult{
		RunID:       r.runID,
		Node:        node,
		Status:      store.NodeStatusCompleted,
		CompletedAt: &now,
		DurationMs:  elapsed.Milliseconds(),
	}
	if ok {
		result.StartedAt = &startedAt
	}
	eventType := store.EventNodeCompleted
	if err != nil {
		result.Status = store.NodeStatusFailed
		result.Error = errorJSON(err)
		eventType = store.EventNodeFailed
	} else {
		result.Output = marshalOrNil(record)
	}

	payload := store.NodePayload{
		Output:     result.Output,
		Error:      result.Error,
		DurationMs: result.DurationMs,
	}
	if r.store != nil {
		r.keep(ctx, r.store.UpsertNodeResult(ctx, result))
		_, appendErr := r.events.Append(ctx, r.runID, node, eventType, payload)
		r.keep(ctx, appendErr)
	}
	r.publish(ctx, node, eventType, payload)
}

// publish forwards an event to the hub. Dropped events are not errors.
func (r *recorder) publish(ctx context.Context, node, eventType string, payload any) {
	if r.hub == nil {
		return
	}
	_ = r.hub.Publish(ctx, streaming.RunEvent{
		RunID:     r.runID,
		GraphName: r.graphName,
		Node:      node,
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

func (r *recorder) keep(ctx context.Context, err error) {
	if err == nil {
		return
	}
	logging.LogWith(ctx, r.logger).Warn("persist node state", slog.String("error", err.Error()))
	r.mu.Lock()
	if r.firstErr == nil {
		r.firstErr = err
	}
	r.mu.Unlock()
}

func (r *recorder) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstErr
}

// marshalOrNil encodes v as JSON. Values that cannot be encoded are stored as null.
func marshalOrNil(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

// errorJSON encodes err as a GraphError document.
func errorJSON(err error) json.RawMessage {
	var gErr *schema.GraphError
	if !errors.As(err, &gErr) {
		gErr = schema.NewError(schema.ErrCodeExecution, err.Error())
	}
	raw, mErr := json.Marshal(gErr)
	if mErr != nil {
		raw, _ = json.Marshal(schema.NewError(gErr.Code, gErr.Message))
	}
	return raw
}
