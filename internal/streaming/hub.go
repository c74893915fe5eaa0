package streaming

import (
	"context"
	"time"
)

// RunEvent is a real-time event emitted while a graph run progresses.
// EventType uses the run history vocabulary (run_started, node_completed, ...).
type RunEvent struct {
	RunID     string    `json:"run_id"`
	GraphName string    `json:"graph_name,omitempty"`
	Node      string    `json:"node,omitempty"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	GraphName  string   `json:"graph_name,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error)
}
