package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/graphcompose/pkg/schema"
)

// EventLog appends and replays the per-run event stream.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide event-sourcing operations.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// Append records an event of type typ for node (empty for run-level events).
// A non-nil payload is JSON-encoded.
func (el *EventLog) Append(ctx context.Context, runID, node, typ string, payload any) (*Event, error) {
	e := &Event{RunID: runID, Node: node, Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		e.Payload = raw
	}
	if err := el.store.AppendEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Events returns events for a run with sequence > since, ordered by sequence.
func (el *EventLog) Events(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// NodePayload is the payload shape of node_completed and node_failed events.
type NodePayload struct {
	Args       json.RawMessage `json:"args,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

// ReplayEvents rebuilds the node results of a run from its event log.
// Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayEvents(ctx context.Context, runID string) (map[string]*NodeResult, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	results := make(map[string]*NodeResult)
	for _, e := range events {
		if e.Node == "" {
			continue
		}
		nr, ok := results[e.Node]
		if !ok {
			nr = &NodeResult{RunID: runID, Node: e.Node, Status: NodeStatusPending}
			results[e.Node] = nr
		}

		var p NodePayload
		if len(e.Payload) > 0 {
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeStore,
					"run %s event %d: bad payload", runID, e.Sequence).WithCause(err)
			}
		}

		switch e.Type {
		case EventNodeStarted:
			nr.Status = NodeStatusRunning
			ts := e.Timestamp
			nr.StartedAt = &ts
			nr.Args = p.Args

		case EventNodeCompleted, EventNodeFailed:
			nr.Status = NodeStatusCompleted
			if e.Type == EventNodeFailed {
				nr.Status = NodeStatusFailed
			}
			ts := e.Timestamp
			nr.CompletedAt = &ts
			nr.Output = p.Output
			nr.Error = p.Error
			nr.DurationMs = p.DurationMs
			if nr.DurationMs == 0 && nr.StartedAt != nil {
				nr.DurationMs = ts.Sub(*nr.StartedAt).Milliseconds()
			}
		}
	}
	return results, nil
}
