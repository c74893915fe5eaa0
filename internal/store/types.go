package store

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a graph run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further transitions are expected.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// NodeStatus is the state of one node within a run.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
)

// Run is the persisted record of one graph evaluation.
type Run struct {
	ID          string            `json:"id"`
	GraphName   string            `json:"graph_name"`
	JobName     string            `json:"job_name"`
	Status      RunStatus         `json:"status"`
	Overrides   map[string]any    `json:"overrides,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// RunUpdate carries the fields to change on a run. Nil fields are left alone.
type RunUpdate struct {
	Status      *RunStatus
	Output      json.RawMessage
	Error       json.RawMessage
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	GraphName string
	JobName   string
	Status    *RunStatus
	Since     *time.Time
	Limit     int
	Offset    int
}

// NodeResult is the materialized state of one node within a run.
type NodeResult struct {
	RunID       string          `json:"run_id"`
	Node        string          `json:"node"`
	Status      NodeStatus      `json:"status"`
	Args        json.RawMessage `json:"args,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
}

// Event types appended to a run's log.
const (
	EventRunStarted    = "run_started"
	EventRunCompleted  = "run_completed"
	EventRunFailed     = "run_failed"
	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"
	EventNodeFailed    = "node_failed"
)

// Event is an immutable entry in a run's log. Sequence is per run, starting at 1.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Node      string          `json:"node,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}
