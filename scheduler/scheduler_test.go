package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/orca/events"
	"github.com/nomis52/orca/logging"
	"github.com/nomis52/orca/pipeline"
)

// testStage records invocations and timing so tests can assert ordering.
type testStage struct {
	mu      sync.Mutex
	calls   int
	started time.Time
	ended   time.Time
	delay   time.Duration
	result  pipeline.StageResult
}

func (s *testStage) Execute(ctx context.Context, in pipeline.Input) pipeline.StageResult {
	s.mu.Lock()
	s.calls++
	s.started = time.Now()
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	s.ended = time.Now()
	s.mu.Unlock()
	return s.result
}

func (s *testStage) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func okStage() *testStage  { return &testStage{result: pipeline.OK(nil)} }
func snap() pipeline.ContextSnapshot {
	return pipeline.ContextSnapshot{RunID: "run-1", RequestID: "req-1", Topology: "chat"}
}

// diamond builds guard -> enrichA, enrichB -> transform -> persist.
func diamond(t *testing.T, guard, enrichA, enrichB, transform, persist pipeline.Stage) *pipeline.Definition {
	t.Helper()
	def, err := pipeline.NewBuilder("chat").
		Stage("guard", pipeline.KindGuard, guard).
		Stage("enrichA", pipeline.KindEnrich, enrichA, "guard").
		Stage("enrichB", pipeline.KindEnrich, enrichB, "guard").
		Stage("transform", pipeline.KindTransform, transform, "enrichA", "enrichB").
		Stage("persist", pipeline.KindWork, persist, "transform").
		Build()
	require.NoError(t, err)
	return def
}

func TestRun_ScenarioA_AllStagesSucceed(t *testing.T) {
	guard := okStage()
	enrichA := okStage()
	enrichB := okStage()
	transform := okStage()
	persist := okStage()

	rec, err := New().Run(context.Background(), diamond(t, guard, enrichA, enrichB, transform, persist), snap(), nil)
	require.NoError(t, err)

	assert.Equal(t, RunSuccess, rec.Status)
	assert.True(t, rec.Succeeded())
	for _, s := range []*testStage{guard, enrichA, enrichB, transform, persist} {
		assert.Equal(t, 1, s.callCount())
	}

	// Transform starts only after both enrichers completed; persist last.
	assert.False(t, transform.started.Before(enrichA.ended))
	assert.False(t, transform.started.Before(enrichB.ended))
	assert.False(t, persist.started.Before(transform.ended))
}

func TestRun_ScenarioB_FailureCascades(t *testing.T) {
	guard := okStage()
	enrichA := &testStage{result: pipeline.Fail(errors.New("enrichment backend down"), true)}
	enrichB := okStage()
	transform := okStage()
	persist := okStage()

	rec, err := New().Run(context.Background(), diamond(t, guard, enrichA, enrichB, transform, persist), snap(), nil)
	require.Error(t, err)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, "enrichA", runErr.FailedStage)
	assert.True(t, runErr.Retryable)
	assert.NotNil(t, runErr.Record)

	assert.Equal(t, RunFailed, rec.Status)
	assert.Equal(t, "enrichA", rec.FirstFailure)

	// Dependents terminate CANCEL without executing.
	assert.Zero(t, transform.callCount())
	assert.Zero(t, persist.callCount())
	assert.Equal(t, pipeline.StatusCancel, rec.Results["transform"].Status)
	assert.Equal(t, pipeline.StatusCancel, rec.Results["persist"].Status)
	assert.Equal(t, "enrichA", rec.Results["transform"].Upstream)
	assert.Contains(t, rec.Results["transform"].Reason, "enrichA")

	// The unrelated enricher still ran.
	assert.Equal(t, 1, enrichB.callCount())
}

func TestRun_ScenarioC_GuardCancelIsNotFailure(t *testing.T) {
	guard := &testStage{result: pipeline.Cancel("unsafe_input")}
	enrichA := okStage()
	enrichB := okStage()
	transform := okStage()
	persist := okStage()

	dl := &recordingDeadletter{}
	sched := New(WithFailureRecorder(dl))

	rec, err := sched.Run(context.Background(), diamond(t, guard, enrichA, enrichB, transform, persist), snap(), nil)
	require.NoError(t, err, "guard cancellation is a deliberate early-exit, not an error")

	assert.Equal(t, RunCancelled, rec.Status)
	assert.Equal(t, "unsafe_input", rec.CancelReason)
	for _, name := range []string{"enrichA", "enrichB", "transform", "persist"} {
		assert.Equal(t, pipeline.StatusCancel, rec.Results[name].Status, name)
	}
	assert.Zero(t, enrichA.callCount())
	assert.Zero(t, persist.callCount())

	// No dead-letter entry for a guard-initiated cancellation.
	assert.Zero(t, dl.count())
}

func TestRun_SkippedStageDoesNotBlockDependents(t *testing.T) {
	enrich := &testStage{result: pipeline.Skip("no session id")}
	var sawAbsent bool
	transform := pipeline.StageFunc(func(ctx context.Context, in pipeline.Input) pipeline.StageResult {
		_, ok := in.Value("enrich", "history")
		sawAbsent = !ok
		return pipeline.OK(nil)
	})

	def, err := pipeline.NewBuilder("p").
		Stage("enrich", pipeline.KindEnrich, enrich).
		Stage("transform", pipeline.KindTransform, transform, "enrich").
		Build()
	require.NoError(t, err)

	rec, err := New().Run(context.Background(), def, snap(), nil)
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, rec.Status)
	assert.True(t, sawAbsent, "dependent must see an absent key, not an error")
}

func TestRun_TopologicalCorrectness(t *testing.T) {
	// Randomized delays; dependencies must still order execution.
	for i := 0; i < 10; i++ {
		stages := map[string]*testStage{}
		for _, name := range []string{"a", "b", "c", "d"} {
			stages[name] = &testStage{
				delay:  time.Duration(rand.Intn(5)) * time.Millisecond,
				result: pipeline.OK(nil),
			}
		}

		def, err := pipeline.NewBuilder("topo").
			Stage("a", pipeline.KindWork, stages["a"]).
			Stage("b", pipeline.KindWork, stages["b"], "a").
			Stage("c", pipeline.KindWork, stages["c"], "a").
			Stage("d", pipeline.KindWork, stages["d"], "b", "c").
			Build()
		require.NoError(t, err)

		_, err = New().Run(context.Background(), def, snap(), nil)
		require.NoError(t, err)

		assert.False(t, stages["b"].started.Before(stages["a"].ended))
		assert.False(t, stages["c"].started.Before(stages["a"].ended))
		assert.False(t, stages["d"].started.Before(stages["b"].ended))
		assert.False(t, stages["d"].started.Before(stages["c"].ended))
	}
}

func TestRun_IndependentStagesCompleteInEitherOrder(t *testing.T) {
	// Two independent stages with randomized delays should be observed
	// finishing in both orders across repeated runs.
	orders := map[string]bool{}
	for i := 0; i < 50 && len(orders) < 2; i++ {
		var mu sync.Mutex
		var finished []string
		mk := func(name string) pipeline.Stage {
			return pipeline.StageFunc(func(ctx context.Context, in pipeline.Input) pipeline.StageResult {
				time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
				mu.Lock()
				finished = append(finished, name)
				mu.Unlock()
				return pipeline.OK(nil)
			})
		}

		def, err := pipeline.NewBuilder("indep").
			Stage("left", pipeline.KindWork, mk("left")).
			Stage("right", pipeline.KindWork, mk("right")).
			Build()
		require.NoError(t, err)

		_, err = New().Run(context.Background(), def, snap(), nil)
		require.NoError(t, err)
		orders[fmt.Sprintf("%v", finished)] = true
	}
	assert.Len(t, orders, 2, "independent stages must not have a fixed completion order")
}

func TestRun_ExternalCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	slow := pipeline.StageFunc(func(ctx context.Context, in pipeline.Input) pipeline.StageResult {
		cancel()
		<-ctx.Done()
		return pipeline.Cancel("observed cancellation")
	})
	after := okStage()

	def, err := pipeline.NewBuilder("cancelled").
		Stage("slow", pipeline.KindWork, slow).
		Stage("after", pipeline.KindWork, after, "slow").
		Build()
	require.NoError(t, err)

	rec, err := New().Run(ctx, def, snap(), nil)
	require.NoError(t, err)

	assert.Equal(t, RunCancelled, rec.Status)
	assert.Zero(t, after.callCount())
	// Every stage still has exactly one terminal result.
	assert.Len(t, rec.Results, 2)
}

func TestRun_CompletedResultsSurviveCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	first := pipeline.StageFunc(func(ctx context.Context, in pipeline.Input) pipeline.StageResult {
		return pipeline.OK(map[string]any{"v": 1})
	})
	second := pipeline.StageFunc(func(ctx context.Context, in pipeline.Input) pipeline.StageResult {
		cancel()
		<-ctx.Done()
		return pipeline.Cancel("shutting down")
	})
	third := okStage()

	def, err := pipeline.NewBuilder("partial").
		Stage("first", pipeline.KindWork, first).
		Stage("second", pipeline.KindWork, second, "first").
		Stage("third", pipeline.KindWork, third, "second").
		Build()
	require.NoError(t, err)

	rec, err := New().Run(ctx, def, snap(), nil)
	require.NoError(t, err)

	assert.Equal(t, RunCancelled, rec.Status)
	assert.Equal(t, pipeline.StatusOK, rec.Results["first"].Status, "completed results are not unwound")
}

func TestRun_ConcurrencyLimit(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0
	mk := func() pipeline.Stage {
		return pipeline.StageFunc(func(ctx context.Context, in pipeline.Input) pipeline.StageResult {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return pipeline.OK(nil)
		})
	}

	b := pipeline.NewBuilder("limited")
	for i := 0; i < 6; i++ {
		b.Stage(fmt.Sprintf("s%d", i), pipeline.KindWork, mk())
	}
	def, err := b.Build()
	require.NoError(t, err)

	_, err = New().Run(context.Background(), def, snap(), &RunConfig{ConcurrencyLimit: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak, 2)
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Emit(ctx context.Context, ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) byType(kind string) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, ev := range s.events {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestRun_EmitsWideEvents(t *testing.T) {
	sink := &recordingSink{}
	sched := New(WithSink(sink))

	def := diamond(t, okStage(), okStage(), okStage(), okStage(), okStage())
	rec, err := sched.Run(context.Background(), def, snap(), nil)
	require.NoError(t, err)

	stageEvents := sink.byType(events.TypeStageCompleted)
	assert.Len(t, stageEvents, 5, "one event per stage transition")
	for _, ev := range stageEvents {
		assert.Equal(t, rec.RunID, ev.RunID)
		assert.Equal(t, "req-1", ev.RequestID)
		assert.Equal(t, "ok", ev.Status)
	}

	runEvents := sink.byType(events.TypeRunCompleted)
	require.Len(t, runEvents, 1)
	assert.Equal(t, "success", runEvents[0].Status)
	assert.Len(t, runEvents[0].Stages, 5)
}

type failingSink struct{}

func (failingSink) Emit(context.Context, events.Event) error {
	return errors.New("telemetry backend down")
}

func TestRun_SinkFailureDoesNotFailRun(t *testing.T) {
	sched := New(WithSink(failingSink{}))
	def := diamond(t, okStage(), okStage(), okStage(), okStage(), okStage())

	rec, err := sched.Run(context.Background(), def, snap(), nil)
	require.NoError(t, err)
	assert.Equal(t, RunSuccess, rec.Status)
}

type recordingDeadletter struct {
	mu      sync.Mutex
	entries []*RunError
	err     error
}

func (d *recordingDeadletter) RecordFailure(ctx context.Context, snapshot pipeline.ContextSnapshot, runErr *RunError) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.entries = append(d.entries, runErr)
	return nil
}

func (d *recordingDeadletter) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func TestRun_FailedRunIsDeadLettered(t *testing.T) {
	dl := &recordingDeadletter{}
	sched := New(WithFailureRecorder(dl))

	failing := &testStage{result: pipeline.Fail(errors.New("boom"), false)}
	def := diamond(t, okStage(), failing, okStage(), okStage(), okStage())

	_, err := sched.Run(context.Background(), def, snap(), nil)
	require.Error(t, err)
	require.Equal(t, 1, dl.count())
	assert.Equal(t, "enrichA", dl.entries[0].FailedStage)
}

func TestRun_SuppressDeadLetterSkipsCapture(t *testing.T) {
	dl := &recordingDeadletter{}
	sched := New(WithFailureRecorder(dl))

	failing := &testStage{result: pipeline.Fail(errors.New("boom"), true)}
	def := diamond(t, okStage(), failing, okStage(), okStage(), okStage())

	_, err := sched.Run(context.Background(), def, snap(), &RunConfig{SuppressDeadLetter: true})
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 0, dl.count(), "suppressed run must not enqueue a new entry")
}

func TestRun_RunLoggerCapturesRunLogs(t *testing.T) {
	collector := logging.NewLogCollector()
	hook := logging.NewCapturingLoggerHook(collector)
	sched := New(WithRunLogger(hook.LoggerForRun))

	def := diamond(t, okStage(), okStage(), okStage(), okStage(), okStage())
	rec, err := sched.Run(context.Background(), def, snap(), nil)
	require.NoError(t, err)

	entries := collector.GetLogs(rec.RunID)
	require.NotEmpty(t, entries)

	var messages []string
	for _, e := range entries {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "starting pipeline run")
	assert.Contains(t, messages, "stage finished")

	// Another run's logs stay isolated.
	assert.Empty(t, collector.GetLogs("other-run"))
}

func TestRun_DeadLetterFailureDoesNotMaskRunError(t *testing.T) {
	dl := &recordingDeadletter{err: errors.New("dlq unavailable")}
	sched := New(WithFailureRecorder(dl))

	failing := &testStage{result: pipeline.Fail(errors.New("boom"), false)}
	def := diamond(t, okStage(), failing, okStage(), okStage(), okStage())

	_, err := sched.Run(context.Background(), def, snap(), nil)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, "enrichA", runErr.FailedStage)
}

type recordingRunWriter struct {
	mu   sync.Mutex
	recs []*RunRecord
}

func (w *recordingRunWriter) InsertRun(ctx context.Context, rec *RunRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recs = append(w.recs, rec)
	return nil
}

func TestRun_FinalizedRecordIsPersistedOnce(t *testing.T) {
	w := &recordingRunWriter{}
	sched := New(WithRunWriter(w))

	def := diamond(t, okStage(), okStage(), okStage(), okStage(), okStage())
	rec, err := sched.Run(context.Background(), def, snap(), nil)
	require.NoError(t, err)

	require.Len(t, w.recs, 1)
	assert.Equal(t, rec.RunID, w.recs[0].RunID)
}

func TestRun_GeneratesRunIDWhenMissing(t *testing.T) {
	def := diamond(t, okStage(), okStage(), okStage(), okStage(), okStage())
	rec, err := New().Run(context.Background(), def, pipeline.ContextSnapshot{Topology: "chat"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.RunID)
}

func TestAggregate_IsPureAndDeterministic(t *testing.T) {
	def := diamond(t, okStage(), okStage(), okStage(), okStage(), okStage())

	results := map[string]pipeline.StageResult{
		"guard":     pipeline.OK(nil),
		"enrichA":   pipeline.Skip("nothing"),
		"enrichB":   pipeline.OK(nil),
		"transform": pipeline.OK(nil),
		"persist":   pipeline.OK(nil),
	}
	for i := 0; i < 3; i++ {
		status, _ := aggregate(results, def, false, "")
		assert.Equal(t, RunSuccess, status)
	}

	results["enrichA"] = pipeline.Fail(errors.New("x"), false)
	status, _ := aggregate(results, def, false, "")
	assert.Equal(t, RunFailed, status)

	status, reason := aggregate(results, def, false, "unsafe_input")
	assert.Equal(t, RunCancelled, status, "guard cancellation outranks failure")
	assert.Equal(t, "unsafe_input", reason)

	status, _ = aggregate(results, def, true, "")
	assert.Equal(t, RunCancelled, status)
}
