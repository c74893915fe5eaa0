package runner

import (
	"context"

	"github.com/rendis/graphcompose/internal/store"
	"github.com/rendis/graphcompose/pkg/schema"
)

// validRunTransitions lists the allowed run status moves.
var validRunTransitions = map[store.RunStatus][]store.RunStatus{
	store.RunStatusPending: {store.RunStatusRunning, store.RunStatusFailed},
	store.RunStatusRunning: {store.RunStatusCompleted, store.RunStatusFailed},
}

func isValidRunTransition(from, to store.RunStatus) bool {
	for _, a := range validRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func runEventType(to store.RunStatus) string {
	switch to {
	case store.RunStatusRunning:
		return store.EventRunStarted
	case store.RunStatusCompleted:
		return store.EventRunCompleted
	case store.RunStatusFailed:
		return store.EventRunFailed
	}
	return ""
}

// transition checks from -> to, appends the matching run event and applies
// update with the new status.
func transition(ctx context.Context, s store.Store, events *store.EventLog, runID string, from, to store.RunStatus, update store.RunUpdate) error {
	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}
	if typ := runEventType(to); typ != "" {
		if _, err := events.Append(ctx, runID, "", typ, nil); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
		}
	}
	update.Status = &to
	if err := s.UpdateRun(ctx, runID, update); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update run status: %s", err.Error()).WithCause(err)
	}
	return nil
}
