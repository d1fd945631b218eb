package deadletter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/orca/pipeline"
	"github.com/nomis52/orca/scheduler"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StatusPending, StatusInvestigating))
	assert.NoError(t, ValidateTransition(StatusPending, StatusAbandoned))
	assert.NoError(t, ValidateTransition(StatusInvestigating, StatusResolved))

	assert.ErrorIs(t, ValidateTransition(StatusResolved, StatusPending), ErrInvalidTransition)
	assert.ErrorIs(t, ValidateTransition(StatusReprocessed, StatusInvestigating), ErrInvalidTransition)
	assert.ErrorIs(t, ValidateTransition(StatusAbandoned, StatusPending), ErrInvalidTransition)
	assert.ErrorIs(t, ValidateTransition(StatusPending, "bogus"), ErrInvalidTransition)
}

func TestMemoryQueue_Lifecycle(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	e := &Entry{ID: "e1", RunID: "r1", Pipeline: "chat", Status: StatusPending}
	require.NoError(t, q.Enqueue(ctx, e))

	got, err := q.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	require.NoError(t, q.UpdateStatus(ctx, "e1", StatusInvestigating, "looking into it"))
	got, err = q.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, StatusInvestigating, got.Status)
	assert.Equal(t, "looking into it", got.Note)

	require.NoError(t, q.UpdateStatus(ctx, "e1", StatusResolved, ""))
	err = q.UpdateStatus(ctx, "e1", StatusPending, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = q.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestMemoryQueue_ListByStatusOrdersByNextAttempt(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, q.Enqueue(ctx, &Entry{ID: "late", Status: StatusPending, NextAttemptAt: base.Add(time.Hour)}))
	require.NoError(t, q.Enqueue(ctx, &Entry{ID: "soon", Status: StatusPending, NextAttemptAt: base}))
	require.NoError(t, q.Enqueue(ctx, &Entry{ID: "done", Status: StatusResolved, NextAttemptAt: base}))

	pending, err := q.ListByStatus(ctx, StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "soon", pending[0].ID)
	assert.Equal(t, "late", pending[1].ID)
}

func TestRecorder_CapturesRunFailure(t *testing.T) {
	q := NewMemoryQueue()
	rec := NewRecorder(q, time.Minute, discard())
	ctx := context.Background()

	snapshot := pipeline.ContextSnapshot{RunID: "r1", UserID: "u1", InputText: "hello"}
	runErr := &scheduler.RunError{
		RunID:       "r1",
		Pipeline:    "chat",
		FailedStage: "model",
		Err:         errors.New("provider 503"),
		Retryable:   true,
	}
	require.NoError(t, rec.RecordFailure(ctx, snapshot, runErr))

	entries, err := q.ListByStatus(ctx, StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "r1", e.RunID)
	assert.Equal(t, "chat", e.Pipeline)
	assert.Equal(t, "model", e.FailedStage)
	assert.Equal(t, "provider 503", e.Error)
	assert.True(t, e.Retryable)
	assert.Equal(t, "hello", e.Snapshot.InputText, "snapshot is stored for replay")
	assert.True(t, e.NextAttemptAt.After(e.CreatedAt))
}

func TestRecorder_AttachesCapturedLogs(t *testing.T) {
	q := NewMemoryQueue()
	rec := NewRecorder(q, time.Minute, discard(),
		WithLogSource(func(runID string) []string {
			return []string{"ERROR pipeline run failed run_id=" + runID}
		}))
	ctx := context.Background()

	runErr := &scheduler.RunError{RunID: "r1", Pipeline: "chat", FailedStage: "model", Err: errors.New("503")}
	require.NoError(t, rec.RecordFailure(ctx, pipeline.ContextSnapshot{RunID: "r1"}, runErr))

	entries, err := q.ListByStatus(ctx, StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"ERROR pipeline run failed run_id=r1"}, entries[0].Logs)
}

func TestBackoff_DelayGrowsAndCaps(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 10 * time.Second, MaxAttempts: 8}
	full := func() float64 { return 1.0 }

	assert.Equal(t, time.Second, b.Delay(1, full))
	assert.Equal(t, 2*time.Second, b.Delay(2, full))
	assert.Equal(t, 4*time.Second, b.Delay(3, full))
	assert.Equal(t, 8*time.Second, b.Delay(4, full))
	assert.Equal(t, 10*time.Second, b.Delay(5, full))
	assert.Equal(t, 10*time.Second, b.Delay(20, full))

	half := func() float64 { return 0.5 }
	assert.Equal(t, 2*time.Second, b.Delay(3, half), "jitter scales the delay")
}

func TestReplayer_SuccessMarksReprocessed(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &Entry{
		ID: "e1", RunID: "r1", Pipeline: "chat", Status: StatusPending, Retryable: true,
		Snapshot:      pipeline.ContextSnapshot{RunID: "r1", InputText: "hi"},
		NextAttemptAt: time.Now().Add(-time.Minute),
	}))

	var gotPipeline string
	var gotSnapshot pipeline.ContextSnapshot
	replay := func(ctx context.Context, name string, snap pipeline.ContextSnapshot) error {
		gotPipeline = name
		gotSnapshot = snap
		return nil
	}

	r := NewReplayer(q, replay, Backoff{Initial: time.Second, Max: time.Minute, MaxAttempts: 3}, discard())
	require.NoError(t, r.Sweep(ctx))

	assert.Equal(t, "chat", gotPipeline)
	assert.Equal(t, "hi", gotSnapshot.InputText)
	assert.Empty(t, gotSnapshot.RunID, "replay gets a fresh run id")

	e, err := q.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, StatusReprocessed, e.Status)
}

func TestReplayer_FailureReschedulesWithBackoff(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, q.Enqueue(ctx, &Entry{
		ID: "e1", Pipeline: "chat", Status: StatusPending, Retryable: true,
		NextAttemptAt: now.Add(-time.Minute),
	}))

	replay := func(context.Context, string, pipeline.ContextSnapshot) error {
		return errors.New("still broken")
	}
	r := NewReplayer(q, replay,
		Backoff{Initial: time.Second, Max: time.Minute, MaxAttempts: 5},
		discard(),
		WithClock(func() time.Time { return now }),
		WithRand(func() float64 { return 1.0 }))

	require.NoError(t, r.Sweep(ctx))

	e, err := q.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, 1, e.Attempts)
	assert.Equal(t, now.Add(2*time.Second), e.NextAttemptAt)
}

func TestReplayer_ExhaustedEntriesAreAbandoned(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &Entry{
		ID: "e1", Pipeline: "chat", Status: StatusPending, Retryable: true,
		Attempts:      2,
		NextAttemptAt: time.Now().Add(-time.Minute),
	}))

	replay := func(context.Context, string, pipeline.ContextSnapshot) error {
		return errors.New("still broken")
	}
	r := NewReplayer(q, replay, Backoff{Initial: time.Second, Max: time.Minute, MaxAttempts: 3}, discard())
	require.NoError(t, r.Sweep(ctx))

	e, err := q.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, e.Status)
	assert.Equal(t, "still broken", e.Note)
}

func TestReplayer_SkipsNonRetryableAndNotDueEntries(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &Entry{
		ID: "manual", Pipeline: "chat", Status: StatusPending, Retryable: false,
		NextAttemptAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, q.Enqueue(ctx, &Entry{
		ID: "future", Pipeline: "chat", Status: StatusPending, Retryable: true,
		NextAttemptAt: time.Now().Add(time.Hour),
	}))

	calls := 0
	replay := func(context.Context, string, pipeline.ContextSnapshot) error {
		calls++
		return nil
	}
	r := NewReplayer(q, replay, Backoff{Initial: time.Second, Max: time.Minute, MaxAttempts: 3}, discard())
	require.NoError(t, r.Sweep(ctx))
	assert.Zero(t, calls)
}

func TestReplayer_ReportsPendingDepthAfterSweep(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &Entry{
		ID: "done", Pipeline: "chat", Status: StatusPending, Retryable: true,
		NextAttemptAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, q.Enqueue(ctx, &Entry{
		ID: "manual", Pipeline: "chat", Status: StatusPending, Retryable: false,
		NextAttemptAt: time.Now().Add(-time.Minute),
	}))

	replay := func(context.Context, string, pipeline.ContextSnapshot) error { return nil }
	var depths []int
	r := NewReplayer(q, replay, Backoff{Initial: time.Second, Max: time.Minute, MaxAttempts: 3}, discard(),
		WithDepthReporter(func(pending int) { depths = append(depths, pending) }))

	require.NoError(t, r.Sweep(ctx))

	// "done" was reprocessed, the non-retryable entry stays pending.
	assert.Equal(t, []int{1}, depths)
}

func TestReplayer_RejectsInvalidCronSpec(t *testing.T) {
	r := NewReplayer(NewMemoryQueue(), nil, Backoff{}, discard())
	err := r.Start(context.Background(), "not a cron spec")
	assert.ErrorIs(t, err, ErrInvalidCronSpec)
}
