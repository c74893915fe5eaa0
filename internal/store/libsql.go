package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/graphcompose/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/runs.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "open libsql %s", dbPath).WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

const runColumns = `id, graph_name, job_name, status, overrides, tags, output, error, created_at, started_at, completed_at, updated_at`

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run id is required")
	}
	overrides, err := marshalMapOrDefault(run.Overrides)
	if err != nil {
		return fmt.Errorf("marshal overrides: %w", err)
	}
	var tags any
	if len(run.Tags) > 0 {
		raw, err := json.Marshal(run.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}
		tags = string(raw)
	}
	if run.Status == "" {
		run.Status = RunStatusPending
	}
	run.CreatedAt = timeOrNow(run.CreatedAt)
	run.UpdatedAt = timeOrNow(run.UpdatedAt)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.GraphName, run.JobName, string(run.Status), string(overrides), tags,
		nullRaw(run.Output), nullRaw(run.Error),
		run.CreatedAt, nullTime(run.StartedAt), nullTime(run.CompletedAt), run.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", run.ID).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, string(update.Output))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any

	if filter.GraphName != "" {
		where = append(where, "graph_name = ?")
		args = append(args, filter.GraphName)
	}
	if filter.JobName != "" {
		where = append(where, "job_name = ?")
		args = append(args, filter.JobName)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run with its node results and events.
func (s *LibSQLStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM run_events WHERE run_id = ?`,
		`DELETE FROM node_results WHERE run_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(res, "run", id); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var (
		status, overridesJSON  string
		tagsJSON               sql.NullString
		outputJSON, errorJSON  sql.NullString
		startedAt, completedAt sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.GraphName, &run.JobName, &status, &overridesJSON, &tagsJSON,
		&outputJSON, &errorJSON, &run.CreatedAt, &startedAt, &completedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	if overridesJSON != "" && overridesJSON != "{}" {
		if err := json.Unmarshal([]byte(overridesJSON), &run.Overrides); err != nil {
			return nil, fmt.Errorf("unmarshal overrides: %w", err)
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &run.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	run.Output = rawOrNil(outputJSON)
	run.Error = rawOrNil(errorJSON)
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// --- Node results ---

func (s *LibSQLStore) UpsertNodeResult(ctx context.Context, result *NodeResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node_results (run_id, node, status, args, output, error, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, node) DO UPDATE SET
		   status=excluded.status, args=COALESCE(excluded.args, node_results.args),
		   output=excluded.output, error=excluded.error,
		   started_at=COALESCE(excluded.started_at, node_results.started_at),
		   completed_at=excluded.completed_at, duration_ms=excluded.duration_ms`,
		result.RunID, result.Node, string(result.Status), nullRaw(result.Args),
		nullRaw(result.Output), nullRaw(result.Error),
		nullTime(result.StartedAt), nullTime(result.CompletedAt), result.DurationMs,
	)
	return err
}

const nodeResultColumns = `run_id, node, status, args, output, error, started_at, completed_at, duration_ms`

func (s *LibSQLStore) GetNodeResult(ctx context.Context, runID, node string) (*NodeResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeResultColumns+` FROM node_results WHERE run_id = ? AND node = ?`, runID, node)
	nr, err := scanNodeResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("node result", runID+"/"+node)
	}
	if err != nil {
		return nil, err
	}
	return nr, nil
}

// ListNodeResults returns the node results of a run in completion order.
func (s *LibSQLStore) ListNodeResults(ctx context.Context, runID string) ([]*NodeResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeResultColumns+` FROM node_results WHERE run_id = ?
		 ORDER BY COALESCE(started_at, completed_at) ASC, node ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*NodeResult
	for rows.Next() {
		nr, err := scanNodeResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, nr)
	}
	return results, rows.Err()
}

func scanNodeResult(row rowScanner) (*NodeResult, error) {
	nr := &NodeResult{}
	var (
		status                       string
		argsJSON, outputJSON, errStr sql.NullString
		startedAt, completedAt       sql.NullTime
	)
	if err := row.Scan(&nr.RunID, &nr.Node, &status, &argsJSON, &outputJSON, &errStr,
		&startedAt, &completedAt, &nr.DurationMs); err != nil {
		return nil, err
	}
	nr.Status = NodeStatus(status)
	nr.Args = rawOrNil(argsJSON)
	nr.Output = rawOrNil(outputJSON)
	nr.Error = rawOrNil(errStr)
	if startedAt.Valid {
		nr.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		nr.CompletedAt = &completedAt.Time
	}
	return nr, nil
}

// --- Events ---

// AppendEvent assigns the next per-run sequence and inserts the event in one transaction.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, node, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.Node), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence.
func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node, event_type, payload, timestamp, sequence
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var node, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &node, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Node = node.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.GraphError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "UNIQUE CONSTRAINT") || strings.Contains(msg, "PRIMARY KEY")
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
