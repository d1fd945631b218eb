package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nomis52/orca/events"
	"github.com/nomis52/orca/pipeline"
	"github.com/nomis52/orca/scheduler"
)

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_run (
    run_id        TEXT PRIMARY KEY,
    request_id    TEXT NOT NULL DEFAULT '',
    pipeline      TEXT NOT NULL,
    status        TEXT NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ NOT NULL,
    duration_ms   BIGINT NOT NULL,
    first_failure TEXT NOT NULL DEFAULT '',
    cancel_reason TEXT NOT NULL DEFAULT '',
    results       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS pipeline_run_pipeline_idx ON pipeline_run (pipeline, started_at DESC);
CREATE INDEX IF NOT EXISTS pipeline_run_request_idx ON pipeline_run (request_id);

CREATE TABLE IF NOT EXISTS pipeline_event (
    id     BIGSERIAL PRIMARY KEY,
    run_id TEXT NOT NULL,
    at     TIMESTAMPTZ NOT NULL,
    body   JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS pipeline_event_run_idx ON pipeline_event (run_id, at);
`

// PostgresStore is the durable Store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dbURL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromPool wraps an existing pool without running
// migrations.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// storedResult is the JSON shape of one stage result inside the
// pipeline_run.results column. Errors are flattened to text.
type storedResult struct {
	Status     string         `json:"status"`
	DurationMS int64          `json:"duration_ms"`
	Payload    map[string]any `json:"payload,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Upstream   string         `json:"upstream,omitempty"`
	Error      string         `json:"error,omitempty"`
	Retryable  bool           `json:"retryable,omitempty"`
}

func encodeResults(results map[string]pipeline.StageResult) ([]byte, error) {
	out := make(map[string]storedResult, len(results))
	for name, res := range results {
		sr := storedResult{
			Status:     res.Status.String(),
			DurationMS: res.Duration.Milliseconds(),
			Payload:    res.Payload,
			Reason:     res.Reason,
			Upstream:   res.Upstream,
			Retryable:  res.Retryable,
		}
		if res.Err != nil {
			sr.Error = res.Err.Error()
		}
		out[name] = sr
	}
	return json.Marshal(out)
}

func decodeResults(data []byte) (map[string]pipeline.StageResult, error) {
	var stored map[string]storedResult
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	out := make(map[string]pipeline.StageResult, len(stored))
	for name, sr := range stored {
		res := pipeline.StageResult{
			Status:    parseStatus(sr.Status),
			Duration:  time.Duration(sr.DurationMS) * time.Millisecond,
			Payload:   sr.Payload,
			Reason:    sr.Reason,
			Upstream:  sr.Upstream,
			Retryable: sr.Retryable,
		}
		if sr.Error != "" {
			res.Err = errors.New(sr.Error)
		}
		out[name] = res
	}
	return out, nil
}

func parseStatus(s string) pipeline.StageStatus {
	switch s {
	case "ok":
		return pipeline.StatusOK
	case "skip":
		return pipeline.StatusSkip
	case "cancel":
		return pipeline.StatusCancel
	default:
		return pipeline.StatusFail
	}
}

func parseRunStatus(s string) scheduler.RunStatus {
	switch s {
	case "success":
		return scheduler.RunSuccess
	case "cancelled":
		return scheduler.RunCancelled
	default:
		return scheduler.RunFailed
	}
}

// InsertRun stores a finalized record. A second insert of the same run
// id returns ErrDuplicateRun.
func (s *PostgresStore) InsertRun(ctx context.Context, rec *scheduler.RunRecord) error {
	results, err := encodeResults(rec.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_run
		    (run_id, request_id, pipeline, status, started_at, finished_at, duration_ms, first_failure, cancel_reason, results)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id) DO NOTHING`,
		rec.RunID, rec.RequestID, rec.Pipeline, rec.Status.String(), rec.StartedAt, rec.FinishedAt,
		rec.Duration.Milliseconds(), rec.FirstFailure, rec.CancelReason, results)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rec.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateRun
	}
	return nil
}

// GetRun returns the record for runID, or ErrRunNotFound.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*scheduler.RunRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, request_id, pipeline, status, started_at, finished_at, duration_ms, first_failure, cancel_reason, results
		FROM pipeline_run WHERE run_id = $1`, runID)
	rec, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns records matching f, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, f Filter) ([]*scheduler.RunRecord, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Pipeline != "" {
		add("pipeline = $%d", f.Pipeline)
	}
	if f.RequestID != "" {
		add("request_id = $%d", f.RequestID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.Since.IsZero() {
		add("started_at >= $%d", f.Since)
	}

	q := `SELECT run_id, request_id, pipeline, status, started_at, finished_at, duration_ms, first_failure, cancel_reason, results
		FROM pipeline_run`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY started_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*scheduler.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRun(row pgx.Row) (*scheduler.RunRecord, error) {
	var (
		rec        scheduler.RunRecord
		status     string
		durationMS int64
		results    []byte
	)
	if err := row.Scan(&rec.RunID, &rec.RequestID, &rec.Pipeline, &status, &rec.StartedAt, &rec.FinishedAt,
		&durationMS, &rec.FirstFailure, &rec.CancelReason, &results); err != nil {
		return nil, err
	}
	rec.Status = parseRunStatus(status)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	decoded, err := decodeResults(results)
	if err != nil {
		return nil, err
	}
	rec.Results = decoded
	return &rec, nil
}

// AppendEvent stores a wide event as a JSON body row.
func (s *PostgresStore) AppendEvent(ctx context.Context, ev events.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_event (run_id, at, body) VALUES ($1, $2, $3)`,
		ev.RunID, ev.At, body); err != nil {
		return fmt.Errorf("append event for run %s: %w", ev.RunID, err)
	}
	return nil
}

// ListEvents returns the events recorded for runID in emission order.
func (s *PostgresStore) ListEvents(ctx context.Context, runID string) ([]events.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT body FROM pipeline_event WHERE run_id = $1 ORDER BY at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var ev events.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
