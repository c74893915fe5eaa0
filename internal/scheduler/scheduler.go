// Package scheduler runs graph definitions on 5-field cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/graphcompose/internal/logging"
	"github.com/rendis/graphcompose/internal/naming"
	"github.com/rendis/graphcompose/internal/runner"
	"github.com/rendis/graphcompose/pkg/schema"
)

// DefaultInterval is the default polling interval of the scheduling loop.
const DefaultInterval = 60 * time.Second

// Last-run statuses recorded on a job.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// GraphRunner is the interface the scheduler uses to run graphs.
// Satisfied by *runner.Runner.
type GraphRunner interface {
	Run(ctx context.Context, def *schema.GraphDefinition, opts runner.RunOptions) (*runner.RunResult, error)
}

// Job is a scheduled graph.
type Job struct {
	ID             string                  `json:"id"`
	Definition     *schema.GraphDefinition `json:"-"`
	CronExpression string                  `json:"cron_expression"`
	Overrides      map[string]any          `json:"overrides,omitempty"`
	NextRunAt      *time.Time              `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time              `json:"last_run_at,omitempty"`
	LastRunStatus  string                  `json:"last_run_status,omitempty"`
	LastRunID      string                  `json:"last_run_id,omitempty"`
}

// GraphName returns the name of the scheduled graph.
func (j *Job) GraphName() string {
	if j.Definition == nil {
		return ""
	}
	return j.Definition.Metadata.Name
}

// Scheduler keeps an in-memory job table and runs due jobs on every tick.
type Scheduler struct {
	runner   GraphRunner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	jobsMu sync.RWMutex
	jobs   map[string]*Job

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(r GraphRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:   r,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logging.Discard(),
		interval: DefaultInterval,
		now:      func() time.Time { return time.Now().UTC() },
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers job and computes its first run time. An empty ID defaults to
// the snake_case graph name.
func (s *Scheduler) Add(job Job) (*Job, error) {
	if job.Definition == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "scheduled job has no graph definition")
	}
	if job.ID == "" {
		job.ID = naming.ToSnakeCase(job.Definition.Metadata.Name)
	}
	next, err := s.CalculateNextRun(job.CronExpression, s.now())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "job %q: %s", job.ID, err.Error()).WithCause(err)
	}
	job.NextRunAt = &next

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "job %q already scheduled", job.ID)
	}
	s.jobs[job.ID] = &job
	cp := job
	return &cp, nil
}

// AddAnnotated schedules every definition carrying the schedule annotation
// and returns how many were added.
func (s *Scheduler) AddAnnotated(defs []*schema.GraphDefinition) (int, error) {
	added := 0
	for _, def := range defs {
		expr := strings.TrimSpace(def.Annotation(schema.ScheduleAnnotation))
		if expr == "" {
			continue
		}
		if _, err := s.Add(Job{Definition: def, CronExpression: expr}); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// Remove deletes a job.
func (s *Scheduler) Remove(id string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "job %q not found", id)
	}
	delete(s.jobs, id)
	return nil
}

// Get returns a snapshot of a job.
func (s *Scheduler) Get(id string) (*Job, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "job %q not found", id)
	}
	cp := *j
	return &cp, nil
}

// List returns snapshots of all jobs sorted by ID.
func (s *Scheduler) List() []*Job {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every job whose next run time has passed.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	for _, job := range s.List() {
		if ctx.Err() != nil {
			return
		}
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue // already running (dedup)
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
	}
}

// RunNow runs a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	job, err := s.Get(id)
	if err != nil {
		return err
	}
	if !s.tryAcquire(id) {
		return schema.NewErrorf(schema.ErrCodeConflict, "job %q is already running", id)
	}
	defer s.releaseJob(id)
	return s.runJob(ctx, job, s.now())
}

// runJob executes a scheduled job and updates its timestamps.
func (s *Scheduler) runJob(ctx context.Context, job *Job, now time.Time) error {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String(logging.AttrGraph, job.GraphName()),
	)

	status := StatusSuccess
	var runID string
	res, err := s.runner.Run(ctx, job.Definition, runner.RunOptions{Overrides: job.Overrides})
	if res != nil {
		runID = res.RunID
		if err == nil {
			err = res.Err()
		}
	}
	if err != nil {
		status = StatusError
		s.logger.Error("scheduled job execution failed",
			slog.String("job_id", job.ID),
			slog.String(logging.AttrRunID, runID),
			slog.String("error", err.Error()),
		)
	}

	return s.updateJob(job, now, status, runID)
}

func (s *Scheduler) updateJob(job *Job, now time.Time, status, runID string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	j, ok := s.jobs[job.ID]
	if !ok {
		return nil // removed while running
	}
	j.LastRunAt = &now
	j.NextRunAt = &nextRun
	j.LastRunStatus = status
	j.LastRunID = runID
	return nil
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
