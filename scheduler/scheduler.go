// Package scheduler executes pipeline definitions: it resolves the declared
// DAG into concurrent stage executions, cascades cancellations from failed
// dependencies, aggregates stage results into a single run record, and
// emits wide events as the run progresses.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nomis52/orca/events"
	"github.com/nomis52/orca/interceptor"
	"github.com/nomis52/orca/pipeline"
)

// RunWriter persists finalized run records. The store package provides the
// production implementations; writes are best-effort from the scheduler's
// point of view.
type RunWriter interface {
	InsertRun(ctx context.Context, rec *RunRecord) error
}

// FailureRecorder captures FAILED runs for dead-letter recovery. Recording
// is best-effort: a dead-letter write failure never masks the run error.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, snapshot pipeline.ContextSnapshot, runErr *RunError) error
}

// RunLoggerFunc derives a run-scoped logger from the scheduler's base
// logger. The logging package's CapturingLoggerHook satisfies this via
// LoggerForRun, capturing everything the run logs for later triage.
type RunLoggerFunc func(base *slog.Logger, runID string) *slog.Logger

// Scheduler runs pipelines. A single Scheduler is shared by all concurrent
// runs; the only mutable cross-run state lives in the interceptor chain
// (circuit breakers).
type Scheduler struct {
	chain      *interceptor.Chain
	sink       events.Sink
	logger     *slog.Logger
	runLogger  RunLoggerFunc
	store      RunWriter
	deadletter FailureRecorder
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithChain sets the interceptor chain wrapped around every stage.
func WithChain(chain *interceptor.Chain) Option {
	return func(s *Scheduler) { s.chain = chain }
}

// WithSink sets the wide-event sink.
func WithSink(sink events.Sink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger.With("component", "scheduler") }
}

// WithRunLogger derives a per-run logger through fn, so each run's logs
// can be captured and attached to its dead-letter entry.
func WithRunLogger(fn RunLoggerFunc) Option {
	return func(s *Scheduler) { s.runLogger = fn }
}

// WithRunWriter persists finalized run records to the given store.
func WithRunWriter(store RunWriter) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithFailureRecorder routes FAILED runs to dead-letter recovery.
func WithFailureRecorder(dl FailureRecorder) Option {
	return func(s *Scheduler) { s.deadletter = dl }
}

// New creates a Scheduler. Without options it runs stages through an empty
// chain and discards events.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		chain:  interceptor.NewChain(),
		sink:   events.NopSink{},
		logger: slog.Default().With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes def against snapshot and returns the finalized run record.
// The error is non-nil only for FAILED runs and is always a *RunError
// carrying the partial results; cancelled runs return a CANCELLED record
// and a nil error.
//
// Stages with no unmet dependencies run concurrently, bounded by
// cfg.ConcurrencyLimit when set. A stage whose dependency failed or was
// cancelled is recorded CANCEL without executing, and the rule propagates
// transitively. Cancelling ctx marks every not-yet-terminal stage CANCEL;
// already-completed results are kept.
func (s *Scheduler) Run(ctx context.Context, def *pipeline.Definition, snapshot pipeline.ContextSnapshot, cfg *RunConfig) (*RunRecord, error) {
	if def == nil {
		return nil, fmt.Errorf("scheduler: nil pipeline definition")
	}
	if snapshot.RunID == "" {
		snapshot.RunID = uuid.NewString()
	}

	base := s.logger
	if s.runLogger != nil {
		base = s.runLogger(base, snapshot.RunID)
	}
	logger := base.With("pipeline", def.Name(), "run_id", snapshot.RunID)
	logger.Info("starting pipeline run", "stages", def.Len())

	run := newRunState(def, snapshot)
	run.logger = logger
	started := time.Now()

	var sem chan struct{}
	if cfg != nil && cfg.ConcurrencyLimit > 0 {
		sem = make(chan struct{}, cfg.ConcurrencyLimit)
	}

	var wg sync.WaitGroup
	for _, st := range def.Stages() {
		wg.Add(1)
		go func(st pipeline.StageDef) {
			defer wg.Done()
			s.runStage(ctx, run, st, sem)
		}(st)
	}
	wg.Wait()

	finished := time.Now()
	results, firstFailure, guardReason := run.snapshotResults()
	status, cancelReason := aggregate(results, def, ctx.Err() != nil, guardReason)

	rec := &RunRecord{
		RunID:        snapshot.RunID,
		RequestID:    snapshot.RequestID,
		Pipeline:     def.Name(),
		Status:       status,
		StartedAt:    started,
		FinishedAt:   finished,
		Duration:     finished.Sub(started),
		Results:      results,
		FirstFailure: firstFailure,
		CancelReason: cancelReason,
	}

	s.emitRunEvent(ctx, rec, snapshot)
	s.persistRun(ctx, rec, logger)

	if status != RunFailed {
		logger.Info("pipeline run completed", "status", status.String(), "duration", rec.Duration)
		return rec, nil
	}

	// A FAILED run normally has a FAIL result; the exception is a non-guard
	// stage issuing a deliberate CANCEL, which is a failure of the pipeline
	// even though no stage errored.
	failStage := firstFailure
	failRes := results[failStage]
	if failStage == "" {
		for _, st := range def.Stages() {
			if res := results[st.Name]; res.Status == pipeline.StatusCancel && res.Upstream == "" {
				failStage = st.Name
				failRes = res
				failRes.Err = fmt.Errorf("stage %s cancelled: %s", st.Name, res.Reason)
				break
			}
		}
		rec.FirstFailure = failStage
	}
	runErr := &RunError{
		RunID:       snapshot.RunID,
		Pipeline:    def.Name(),
		FailedStage: failStage,
		Err:         failRes.Err,
		Retryable:   failRes.Retryable,
		Record:      rec,
	}
	logger.Error("pipeline run failed", "stage", failStage, "error", failRes.Err, "retryable", failRes.Retryable)

	// Best-effort: a dead-letter write failure must not mask the run error.
	if s.deadletter != nil && (cfg == nil || !cfg.SuppressDeadLetter) {
		if err := s.deadletter.RecordFailure(ctx, snapshot.Clone(), runErr); err != nil {
			logger.Warn("dead-letter record failed", "error", err)
		}
	}
	return rec, runErr
}

// runState is the mutable bookkeeping for one run.
type runState struct {
	def      *pipeline.Definition
	snapshot pipeline.ContextSnapshot
	logger   *slog.Logger

	mu           sync.Mutex
	results      map[string]pipeline.StageResult
	firstFailure string
	guardReason  string
	done         map[string]chan struct{}
}

func newRunState(def *pipeline.Definition, snapshot pipeline.ContextSnapshot) *runState {
	done := make(map[string]chan struct{}, def.Len())
	for _, st := range def.Stages() {
		done[st.Name] = make(chan struct{})
	}
	return &runState{
		def:      def,
		snapshot: snapshot,
		results:  make(map[string]pipeline.StageResult, def.Len()),
		done:     done,
	}
}

// record stores a stage's terminal result exactly once and signals
// dependents.
func (r *runState) record(st pipeline.StageDef, res pipeline.StageResult) {
	r.mu.Lock()
	r.results[st.Name] = res
	if res.Status == pipeline.StatusFail && r.firstFailure == "" {
		r.firstFailure = st.Name
	}
	if res.Status == pipeline.StatusCancel && res.Upstream == "" &&
		st.Kind == pipeline.KindGuard && res.Reason != reasonRunCancelled && r.guardReason == "" {
		r.guardReason = res.Reason
	}
	r.mu.Unlock()
	close(r.done[st.Name])
}

func (r *runState) result(name string) pipeline.StageResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[name]
}

func (r *runState) snapshotResults() (map[string]pipeline.StageResult, string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]pipeline.StageResult, len(r.results))
	for k, v := range r.results {
		out[k] = v
	}
	return out, r.firstFailure, r.guardReason
}

const reasonRunCancelled = "run cancelled"

// runStage waits for the stage's dependencies, then either cascades a
// cancellation or executes the stage through the interceptor chain.
func (s *Scheduler) runStage(ctx context.Context, run *runState, st pipeline.StageDef, sem chan struct{}) {
	// A stage never begins before all declared dependencies are terminal.
	for _, dep := range st.DependsOn {
		select {
		case <-ctx.Done():
			s.finishStage(ctx, run, st, pipeline.Cancel(reasonRunCancelled))
			return
		case <-run.done[dep]:
		}
	}

	depResults := make(map[string]pipeline.StageResult, len(st.DependsOn))
	for _, dep := range st.DependsOn {
		res := run.result(dep)
		if !res.IsSuccess() {
			// Cascading cancellation: record CANCEL without executing.
			cascade := pipeline.StageResult{
				Status:   pipeline.StatusCancel,
				Reason:   fmt.Sprintf("dependency %s %s", dep, res.Status.String()),
				Upstream: dep,
			}
			s.finishStage(ctx, run, st, cascade)
			return
		}
		depResults[dep] = res
	}

	if ctx.Err() != nil {
		s.finishStage(ctx, run, st, pipeline.Cancel(reasonRunCancelled))
		return
	}

	if sem != nil {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			s.finishStage(ctx, run, st, pipeline.Cancel(reasonRunCancelled))
			return
		}
	}

	info := interceptor.StageInfo{
		Pipeline: run.def.Name(),
		RunID:    run.snapshot.RunID,
		Stage:    st.Name,
		Kind:     st.Kind,
	}
	if p, ok := st.Runner.(pipeline.ProviderIdentified); ok {
		info.Provider = p.ProviderID()
	}

	in := pipeline.NewInput(run.snapshot, depResults)
	res := s.chain.Execute(ctx, info, in, st.Runner)
	s.finishStage(ctx, run, st, res)
}

// finishStage records the terminal result and emits the stage wide event.
func (s *Scheduler) finishStage(ctx context.Context, run *runState, st pipeline.StageDef, res pipeline.StageResult) {
	run.record(st, res)

	// Debug level so it normally stays out of the output stream while a
	// capturing run logger still records it for triage.
	run.logger.Debug("stage finished",
		"stage", st.Name, "kind", st.Kind.String(),
		"status", res.Status.String(), "duration", res.Duration)

	ev := events.Event{
		Type:       events.TypeStageCompleted,
		At:         time.Now(),
		RunID:      run.snapshot.RunID,
		RequestID:  run.snapshot.RequestID,
		SessionID:  run.snapshot.SessionID,
		UserID:     run.snapshot.UserID,
		OrgID:      run.snapshot.OrgID,
		Pipeline:   run.def.Name(),
		Stage:      st.Name,
		Kind:       st.Kind.String(),
		Status:     res.Status.String(),
		Reason:     res.Reason,
		DurationMS: res.Duration.Milliseconds(),
		Payload:    events.SummarizePayload(res.Payload),
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	s.emit(ctx, ev)
}

func (s *Scheduler) emitRunEvent(ctx context.Context, rec *RunRecord, snapshot pipeline.ContextSnapshot) {
	stages := make(map[string]string, len(rec.Results))
	for name, res := range rec.Results {
		stages[name] = res.Status.String()
	}
	s.emit(ctx, events.Event{
		Type:       events.TypeRunCompleted,
		At:         rec.FinishedAt,
		RunID:      rec.RunID,
		RequestID:  snapshot.RequestID,
		SessionID:  snapshot.SessionID,
		UserID:     snapshot.UserID,
		OrgID:      snapshot.OrgID,
		Pipeline:   rec.Pipeline,
		Status:     rec.Status.String(),
		Reason:     rec.CancelReason,
		DurationMS: rec.Duration.Milliseconds(),
		Stages:     stages,
	})
}

// emit delivers an event to the sink. Emission never fails the run.
func (s *Scheduler) emit(ctx context.Context, ev events.Event) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Warn("event sink panicked", "type", ev.Type, "panic", p)
		}
	}()
	if err := s.sink.Emit(ctx, ev); err != nil {
		s.logger.Warn("event emit failed", "type", ev.Type, "run_id", ev.RunID, "error", err)
	}
}

// persistRun inserts the finalized record. Best-effort: storage problems
// are logged, not surfaced.
func (s *Scheduler) persistRun(ctx context.Context, rec *RunRecord, logger *slog.Logger) {
	if s.store == nil {
		return
	}
	if err := s.store.InsertRun(ctx, rec); err != nil {
		logger.Warn("run record insert failed", "error", err)
	}
}

// aggregate computes the overall status as a pure function of the terminal
// results: SUCCESS iff every stage is OK or SKIP; else CANCELLED iff the
// run was externally cancelled or a guard issued a cancellation; else
// FAILED.
func aggregate(results map[string]pipeline.StageResult, def *pipeline.Definition, externalCancel bool, guardReason string) (RunStatus, string) {
	allOK := true
	for _, res := range results {
		if !res.IsSuccess() {
			allOK = false
			break
		}
	}
	if allOK && len(results) == def.Len() {
		return RunSuccess, ""
	}
	if externalCancel {
		return RunCancelled, reasonRunCancelled
	}
	if guardReason != "" {
		return RunCancelled, guardReason
	}
	return RunFailed, ""
}
