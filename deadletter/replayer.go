package deadletter

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nomis52/orca/pipeline"
)

// ErrInvalidCronSpec is returned when the sweep schedule cannot be
// parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// ReplayFunc re-executes a pipeline against a snapshot. The engine's
// Run method satisfies this after dropping the returned record.
type ReplayFunc func(ctx context.Context, pipelineName string, snapshot pipeline.ContextSnapshot) error

// Backoff controls the replay schedule. Delay grows exponentially from
// Initial, capped at Max, with full jitter applied to spread replays
// of entries that failed together.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the jittered delay before the given attempt number
// (1-based).
func (b Backoff) Delay(attempt int, randFloat func() float64) time.Duration {
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			d = b.Max
			break
		}
	}
	return time.Duration(randFloat() * float64(d))
}

// Replayer sweeps pending dead-letter entries and re-runs them.
type Replayer struct {
	queue   Queue
	replay  ReplayFunc
	backoff Backoff
	logger  *slog.Logger

	now         func() time.Time
	randFloat   func() float64
	reportDepth func(pending int)
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ReplayerOption {
	return func(r *Replayer) { r.now = now }
}

// WithRand overrides the jitter source, for tests.
func WithRand(f func() float64) ReplayerOption {
	return func(r *Replayer) { r.randFloat = f }
}

// WithDepthReporter publishes the pending entry count after every
// sweep, typically to the dead-letter depth gauge.
func WithDepthReporter(fn func(pending int)) ReplayerOption {
	return func(r *Replayer) { r.reportDepth = fn }
}

// NewReplayer creates a Replayer that re-runs entries from queue via
// replay.
func NewReplayer(queue Queue, replay ReplayFunc, backoff Backoff, logger *slog.Logger, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		queue:     queue,
		replay:    replay,
		backoff:   backoff,
		logger:    logger.With("component", "replayer"),
		now:       time.Now,
		randFloat: rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sweep replays every pending retryable entry whose next attempt is
// due. Non-retryable entries stay pending for operator triage. The
// returned error covers queue access only; individual replay failures
// are recorded on their entries.
func (r *Replayer) Sweep(ctx context.Context) error {
	entries, err := r.queue.ListByStatus(ctx, StatusPending, 0)
	if err != nil {
		return err
	}
	now := r.now()
	for _, e := range entries {
		if !e.Retryable || e.NextAttemptAt.After(now) {
			continue
		}
		r.replayEntry(ctx, e)
	}
	if r.reportDepth != nil {
		if remaining, lerr := r.queue.ListByStatus(ctx, StatusPending, 0); lerr == nil {
			r.reportDepth(len(remaining))
		}
	}
	return nil
}

func (r *Replayer) replayEntry(ctx context.Context, e *Entry) {
	logger := r.logger.With("entry_id", e.ID, "pipeline", e.Pipeline, "original_run_id", e.RunID)

	// Fresh run id so the replayed run gets its own record.
	snapshot := e.Snapshot.Clone()
	snapshot.RunID = ""

	err := r.replay(ctx, e.Pipeline, snapshot)
	if err == nil {
		if uerr := r.queue.UpdateStatus(ctx, e.ID, StatusReprocessed, ""); uerr != nil {
			logger.Warn("failed to mark entry reprocessed", "error", uerr)
		}
		logger.Info("dead-letter entry reprocessed", "attempts", e.Attempts+1)
		return
	}

	attempts := e.Attempts + 1
	if attempts >= r.backoff.MaxAttempts {
		if uerr := r.queue.UpdateStatus(ctx, e.ID, StatusAbandoned, err.Error()); uerr != nil {
			logger.Warn("failed to abandon entry", "error", uerr)
		}
		logger.Warn("dead-letter entry abandoned", "attempts", attempts, "error", err)
		return
	}

	next := r.now().Add(r.backoff.Delay(attempts+1, r.randFloat))
	if uerr := r.queue.RecordAttempt(ctx, e.ID, attempts, next); uerr != nil {
		logger.Warn("failed to record replay attempt", "error", uerr)
	}
	logger.Info("dead-letter replay failed, rescheduled",
		"attempts", attempts, "next_attempt_at", next, "error", err)
}

// Start launches a goroutine that sweeps on the given cron spec
// (5 fields: minute, hour, day, month, weekday). The goroutine exits
// when ctx is cancelled.
func (r *Replayer) Start(ctx context.Context, spec string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return errors.Join(ErrInvalidCronSpec, err)
	}
	go r.loop(ctx, schedule)
	return nil
}

func (r *Replayer) loop(ctx context.Context, schedule cron.Schedule) {
	for {
		next := schedule.Next(time.Now())
		r.logger.Debug("waiting for next sweep", "next_sweep", next)
		select {
		case <-ctx.Done():
			r.logger.Info("replayer shutting down")
			return
		case <-time.After(time.Until(next)):
			if err := r.Sweep(ctx); err != nil {
				r.logger.Warn("sweep failed", "error", err)
			}
		}
	}
}
