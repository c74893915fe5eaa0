package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEventLog(t *testing.T) (*EventLog, *LibSQLStore) {
	t.Helper()
	s := newTestStore(t)
	return NewEventLog(s), s
}

func TestEventLog_Append_MonotonicSequence(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	r := seedRun(t, s, "g")

	for i := 1; i <= 5; i++ {
		e, err := el.Append(ctx, r.ID, "a", EventNodeStarted, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(i), e.Sequence)
		assert.Nil(t, e.Payload)
	}
}

func TestEventLog_Append_EncodesPayload(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	r := seedRun(t, s, "g")

	_, err := el.Append(ctx, r.ID, "a", EventNodeCompleted, NodePayload{Output: json.RawMessage(`{"result":1}`)})
	require.NoError(t, err)

	events, err := el.Events(ctx, r.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"output":{"result":1}}`, string(events[0].Payload))
}

func TestEventLog_ReplayEvents_Lifecycle(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	r := seedRun(t, s, "g")

	_, err := el.Append(ctx, r.ID, "", EventRunStarted, nil)
	require.NoError(t, err)
	_, err = el.Append(ctx, r.ID, "a", EventNodeStarted, NodePayload{Args: json.RawMessage(`[1,2]`)})
	require.NoError(t, err)
	_, err = el.Append(ctx, r.ID, "a", EventNodeCompleted, NodePayload{Output: json.RawMessage(`{"result":3}`), DurationMs: 7})
	require.NoError(t, err)
	_, err = el.Append(ctx, r.ID, "b", EventNodeStarted, nil)
	require.NoError(t, err)
	_, err = el.Append(ctx, r.ID, "b", EventNodeFailed, NodePayload{Error: json.RawMessage(`{"code":"EXECUTION_ERROR"}`)})
	require.NoError(t, err)
	_, err = el.Append(ctx, r.ID, "c", EventNodeStarted, nil)
	require.NoError(t, err)

	results, err := el.ReplayEvents(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, results, 3)

	a := results["a"]
	assert.Equal(t, NodeStatusCompleted, a.Status)
	assert.JSONEq(t, `[1,2]`, string(a.Args))
	assert.JSONEq(t, `{"result":3}`, string(a.Output))
	assert.Equal(t, int64(7), a.DurationMs)
	assert.NotNil(t, a.StartedAt)
	assert.NotNil(t, a.CompletedAt)

	b := results["b"]
	assert.Equal(t, NodeStatusFailed, b.Status)
	assert.JSONEq(t, `{"code":"EXECUTION_ERROR"}`, string(b.Error))

	assert.Equal(t, NodeStatusRunning, results["c"].Status)
}

func TestEventLog_ReplayEvents_EmptyRun(t *testing.T) {
	el, s := newTestEventLog(t)
	r := seedRun(t, s, "g")

	results, err := el.ReplayEvents(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEventLog_ReplayEvents_SequenceGap(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	r := seedRun(t, s, "g")

	now := time.Now().UTC()
	_, err := s.DB().ExecContext(ctx,
		`INSERT INTO run_events (run_id, node, event_type, timestamp, sequence) VALUES (?, 'a', 'node_started', ?, 1)`,
		r.ID, now)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx,
		`INSERT INTO run_events (run_id, node, event_type, timestamp, sequence) VALUES (?, 'a', 'node_completed', ?, 3)`,
		r.ID, now)
	require.NoError(t, err)

	_, err = el.ReplayEvents(ctx, r.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequence gap")
}

func TestEventLog_ConcurrentAppend_DifferentRuns(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()

	var runs []*Run
	for i := 0; i < 5; i++ {
		runs = append(runs, seedRun(t, s, "g"))
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 50)
	for _, r := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := el.Append(ctx, r.ID, "a", EventNodeStarted, nil); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent append error: %v", err)
	}

	for _, r := range runs {
		events, err := el.Events(ctx, r.ID, 0)
		require.NoError(t, err)
		assert.Len(t, events, 10)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Sequence)
		}
	}
}

func TestEventLog_RunScopedSequences(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	r1 := seedRun(t, s, "g")
	r2 := seedRun(t, s, "g")

	_, err := el.Append(ctx, r1.ID, "a", EventNodeStarted, nil)
	require.NoError(t, err)
	_, err = el.Append(ctx, r1.ID, "a", EventNodeCompleted, nil)
	require.NoError(t, err)

	e, err := el.Append(ctx, r2.ID, "a", EventNodeStarted, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Sequence, "each run has its own sequence")
}
