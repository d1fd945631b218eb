package deadletter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nomis52/orca/pipeline"
	"github.com/nomis52/orca/scheduler"
)

// Recorder turns failed runs into pending dead-letter entries. It
// implements scheduler.FailureRecorder.
type Recorder struct {
	queue        Queue
	initialDelay time.Duration
	logger       *slog.Logger
	logSource    func(runID string) []string
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithLogSource attaches the captured log lines of the failed run to
// new entries. logging.LogCollector.FormatLogs satisfies this.
func WithLogSource(src func(runID string) []string) RecorderOption {
	return func(r *Recorder) { r.logSource = src }
}

// NewRecorder creates a Recorder writing to queue. New entries become
// eligible for replay after initialDelay.
func NewRecorder(queue Queue, initialDelay time.Duration, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		queue:        queue,
		initialDelay: initialDelay,
		logger:       logger.With("component", "deadletter"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordFailure stores the failed run with its snapshot so it can be
// replayed as originally submitted.
func (r *Recorder) RecordFailure(ctx context.Context, snapshot pipeline.ContextSnapshot, runErr *scheduler.RunError) error {
	now := time.Now()
	e := &Entry{
		ID:            uuid.NewString(),
		RunID:         runErr.RunID,
		Pipeline:      runErr.Pipeline,
		FailedStage:   runErr.FailedStage,
		Retryable:     runErr.Retryable,
		Snapshot:      snapshot,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		NextAttemptAt: now.Add(r.initialDelay),
	}
	if runErr.Err != nil {
		e.Error = runErr.Err.Error()
	}
	if r.logSource != nil {
		e.Logs = r.logSource(runErr.RunID)
	}
	if err := r.queue.Enqueue(ctx, e); err != nil {
		return fmt.Errorf("enqueue dead-letter entry for run %s: %w", runErr.RunID, err)
	}
	r.logger.Info("run dead-lettered",
		"run_id", runErr.RunID, "pipeline", runErr.Pipeline,
		"stage", runErr.FailedStage, "retryable", runErr.Retryable)
	return nil
}

var _ scheduler.FailureRecorder = (*Recorder)(nil)
