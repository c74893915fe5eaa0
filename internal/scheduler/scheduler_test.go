package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/graphcompose/internal/runner"
	"github.com/rendis/graphcompose/internal/store"
	"github.com/rendis/graphcompose/pkg/schema"
)

// mockRunner tracks Run calls.
type mockRunner struct {
	mu     sync.Mutex
	calls  []runCall
	err    error
	failed bool
}

type runCall struct {
	Graph     string
	Overrides map[string]any
}

func (r *mockRunner) Run(_ context.Context, def *schema.GraphDefinition, opts runner.RunOptions) (*runner.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, runCall{Graph: def.Metadata.Name, Overrides: opts.Overrides})
	if r.err != nil {
		return nil, r.err
	}
	res := &runner.RunResult{RunID: "run-" + def.Metadata.Name, GraphName: def.Metadata.Name, Status: store.RunStatusCompleted}
	if r.failed {
		res.Status = store.RunStatusFailed
		res.Error = schema.NewError(schema.ErrCodeExecution, "boom")
	}
	return res, nil
}

func (r *mockRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestScheduler(r GraphRunner) (*Scheduler, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)}
	return NewScheduler(r, WithClock(clock.Now)), clock
}

func def(name string, annotations map[string]string) *schema.GraphDefinition {
	return &schema.GraphDefinition{
		APIVersion: schema.APIVersion,
		Kind:       schema.KindComposableGraph,
		Metadata:   schema.Metadata{Name: name, Annotations: annotations},
		Spec: schema.GraphSpec{
			Operations: []schema.OperationDef{{Name: "a", Function: "core.list"}},
		},
	}
}

// --- Tests ---

func TestCalculateNextRun(t *testing.T) {
	sched, _ := newTestScheduler(&mockRunner{})
	from := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	// Every hour at minute 0.
	next, err := sched.CalculateNextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), next)

	// Every 15 minutes.
	next, err = sched.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 15, 0, 0, time.UTC), next)

	// Daily at midnight.
	next, err = sched.CalculateNextRun("0 0 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC), next)

	_, err = sched.CalculateNextRun("invalid cron", from)
	require.Error(t, err)

	// Seconds field is not accepted.
	_, err = sched.CalculateNextRun("0 0 * * * *", from)
	require.Error(t, err)
}

func TestAdd(t *testing.T) {
	sched, _ := newTestScheduler(&mockRunner{})

	job, err := sched.Add(Job{Definition: def("Nightly Report", nil), CronExpression: "0 * * * *"})
	require.NoError(t, err)
	assert.Equal(t, "nightly_report", job.ID)
	assert.Equal(t, "Nightly Report", job.GraphName())
	require.NotNil(t, job.NextRunAt)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), *job.NextRunAt)

	_, err = sched.Add(Job{Definition: def("Nightly Report", nil), CronExpression: "0 * * * *"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
}

func TestAdd_Invalid(t *testing.T) {
	sched, _ := newTestScheduler(&mockRunner{})

	_, err := sched.Add(Job{CronExpression: "0 * * * *"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = sched.Add(Job{Definition: def("g", nil), CronExpression: "every hour"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Empty(t, sched.List())
}

func TestAddAnnotated(t *testing.T) {
	sched, _ := newTestScheduler(&mockRunner{})

	n, err := sched.AddAnnotated([]*schema.GraphDefinition{
		def("hourly", map[string]string{schema.ScheduleAnnotation: "0 * * * *"}),
		def("manual", map[string]string{"team": "data"}),
		def("daily", map[string]string{schema.ScheduleAnnotation: " 0 0 * * * "}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	jobs := sched.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, "daily", jobs[0].ID)
	assert.Equal(t, "0 0 * * *", jobs[0].CronExpression)
	assert.Equal(t, "hourly", jobs[1].ID)
}

func TestAddAnnotated_BadCron(t *testing.T) {
	sched, _ := newTestScheduler(&mockRunner{})

	n, err := sched.AddAnnotated([]*schema.GraphDefinition{
		def("ok", map[string]string{schema.ScheduleAnnotation: "0 * * * *"}),
		def("bad", map[string]string{schema.ScheduleAnnotation: "nope"}),
	})
	require.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestRemoveAndGet(t *testing.T) {
	sched, _ := newTestScheduler(&mockRunner{})
	_, err := sched.Add(Job{ID: "j", Definition: def("g", nil), CronExpression: "0 * * * *"})
	require.NoError(t, err)

	got, err := sched.Get("j")
	require.NoError(t, err)
	assert.Equal(t, "g", got.GraphName())

	require.NoError(t, sched.Remove("j"))
	_, err = sched.Get("j")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	assert.True(t, schema.IsCode(sched.Remove("j"), schema.ErrCodeNotFound))
}

func TestTickRunsDueJobs(t *testing.T) {
	r := &mockRunner{}
	sched, clock := newTestScheduler(r)
	_, err := sched.Add(Job{
		ID:             "job-1",
		Definition:     def("g", nil),
		CronExpression: "0 * * * *",
		Overrides:      map[string]any{"x": 1},
	})
	require.NoError(t, err)

	ctx := context.Background()
	sched.tick(ctx)
	assert.Equal(t, 0, r.callCount(), "not due yet")

	clock.Advance(time.Hour)
	sched.tick(ctx)
	require.Equal(t, 1, r.callCount())
	assert.Equal(t, map[string]any{"x": 1}, r.calls[0].Overrides)

	job, err := sched.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, job.LastRunStatus)
	assert.Equal(t, "run-g", job.LastRunID)
	require.NotNil(t, job.LastRunAt)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), *job.LastRunAt)
	assert.Equal(t, time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC), *job.NextRunAt)

	sched.tick(ctx)
	assert.Equal(t, 1, r.callCount(), "next run moved forward")
}

func TestTickRecordsFailures(t *testing.T) {
	tests := []struct {
		name   string
		runner *mockRunner
		runID  string
	}{
		{"run error", &mockRunner{err: errors.New("validation failed")}, ""},
		{"failed run", &mockRunner{failed: true}, "run-g"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, clock := newTestScheduler(tt.runner)
			_, err := sched.Add(Job{ID: "job", Definition: def("g", nil), CronExpression: "0 * * * *"})
			require.NoError(t, err)

			clock.Advance(2 * time.Hour)
			sched.tick(context.Background())

			job, err := sched.Get("job")
			require.NoError(t, err)
			assert.Equal(t, StatusError, job.LastRunStatus)
			assert.Equal(t, tt.runID, job.LastRunID)
			assert.True(t, job.NextRunAt.After(clock.Now()))
		})
	}
}

func TestDedupPreventsDoubleRun(t *testing.T) {
	r := &mockRunner{}
	sched, clock := newTestScheduler(r)
	_, err := sched.Add(Job{ID: "job-dedup", Definition: def("g", nil), CronExpression: "0 * * * *"})
	require.NoError(t, err)
	clock.Advance(time.Hour)

	// Pre-acquire the job to simulate an in-flight execution.
	assert.True(t, sched.tryAcquire("job-dedup"))

	ctx := context.Background()
	sched.tick(ctx)
	assert.Equal(t, 0, r.callCount())

	err = sched.RunNow(ctx, "job-dedup")
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	sched.releaseJob("job-dedup")
	sched.tick(ctx)
	assert.Equal(t, 1, r.callCount())
}

func TestRunNow(t *testing.T) {
	r := &mockRunner{}
	sched, _ := newTestScheduler(r)
	_, err := sched.Add(Job{ID: "j", Definition: def("g", nil), CronExpression: "0 0 1 1 *"})
	require.NoError(t, err)

	require.NoError(t, sched.RunNow(context.Background(), "j"))
	assert.Equal(t, 1, r.callCount())
	assert.True(t, sched.tryAcquire("j"), "released after run")

	assert.True(t, schema.IsCode(sched.RunNow(context.Background(), "missing"), schema.ErrCodeNotFound))
}

func TestStartStop(t *testing.T) {
	r := &mockRunner{}
	sched := NewScheduler(r, WithInterval(10*time.Millisecond))
	_, err := sched.Add(Job{ID: "j", Definition: def("g", nil), CronExpression: "* * * * *"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sched.Start(ctx))

	err = sched.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop())
}

func TestStart_RunsOverdueJobOnFirstTick(t *testing.T) {
	r := &mockRunner{}
	clock := &fakeClock{now: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)}
	sched := NewScheduler(r, WithClock(clock.Now), WithInterval(time.Hour))
	_, err := sched.Add(Job{ID: "j", Definition: def("g", nil), CronExpression: "0 * * * *"})
	require.NoError(t, err)
	clock.Advance(90 * time.Minute)

	require.NoError(t, sched.Start(context.Background()))
	assert.Eventually(t, func() bool { return r.callCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sched.Stop())
}
