package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nomis52/orca/events"
)

// PipelineMetrics holds the engine's collectors: stage outcomes and
// durations, run outcomes, circuit breaker state, and dead-letter
// queue depth. It implements the interceptor package's StageObserver.
type PipelineMetrics struct {
	stageDuration HistogramVec
	stageOutcomes CounterVec
	runsTotal     CounterVec
	runDuration   HistogramVec
	breakerState  GaugeVec
	deadLetters   Gauge
}

// NewPipelineMetrics registers the engine collectors with the given
// registry.
func NewPipelineMetrics(reg Registry) (*PipelineMetrics, error) {
	stageDuration, err := reg.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Stage execution time, including interceptor overhead.",
		Buckets: prometheus.DefBuckets,
	}, []string{"pipeline", "stage", "status"})
	if err != nil {
		return nil, fmt.Errorf("registering stage duration: %w", err)
	}

	stageOutcomes, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_outcomes_total",
		Help: "Terminal stage results by status.",
	}, []string{"pipeline", "stage", "kind", "status"})
	if err != nil {
		return nil, fmt.Errorf("registering stage outcomes: %w", err)
	}

	runsTotal, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_runs_total",
		Help: "Completed pipeline runs by status.",
	}, []string{"pipeline", "status"})
	if err != nil {
		return nil, fmt.Errorf("registering runs total: %w", err)
	}

	runDuration, err := reg.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_run_duration_seconds",
		Help:    "End-to-end pipeline run time.",
		Buckets: prometheus.DefBuckets,
	}, []string{"pipeline", "status"})
	if err != nil {
		return nil, fmt.Errorf("registering run duration: %w", err)
	}

	breakerState, err := reg.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_breaker_state",
		Help: "Circuit breaker state per provider: 0 closed, 1 open, 2 half-open.",
	}, []string{"provider"})
	if err != nil {
		return nil, fmt.Errorf("registering breaker state: %w", err)
	}

	deadLetters, err := reg.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_dead_letter_pending",
		Help: "Dead-letter entries awaiting replay or triage.",
	})
	if err != nil {
		return nil, fmt.Errorf("registering dead letter depth: %w", err)
	}

	return &PipelineMetrics{
		stageDuration: stageDuration,
		stageOutcomes: stageOutcomes,
		runsTotal:     runsTotal,
		runDuration:   runDuration,
		breakerState:  breakerState,
		deadLetters:   deadLetters,
	}, nil
}

// ObserveStage records one terminal stage result.
func (m *PipelineMetrics) ObserveStage(pipelineName, stage, kind, status string, d time.Duration) {
	m.stageDuration.With(prometheus.Labels{
		"pipeline": pipelineName,
		"stage":    stage,
		"status":   status,
	}).Observe(d.Seconds())
	m.stageOutcomes.With(prometheus.Labels{
		"pipeline": pipelineName,
		"stage":    stage,
		"kind":     kind,
		"status":   status,
	}).Inc()
}

// ObserveRun records one completed run.
func (m *PipelineMetrics) ObserveRun(pipelineName, status string, d time.Duration) {
	labels := prometheus.Labels{"pipeline": pipelineName, "status": status}
	m.runsTotal.With(labels).Inc()
	m.runDuration.With(labels).Observe(d.Seconds())
}

// SetBreakerState exports the breaker state for a provider key.
func (m *PipelineMetrics) SetBreakerState(provider string, state float64) {
	m.breakerState.With(prometheus.Labels{"provider": provider}).Set(state)
}

// SetDeadLetterDepth exports the number of pending dead-letter entries.
func (m *PipelineMetrics) SetDeadLetterDepth(n int) {
	m.deadLetters.Set(float64(n))
}

// RunSink adapts the collectors to an event sink so run-completed
// events update the run counters. Stage events are already covered by
// the metrics interceptor and are ignored here.
func (m *PipelineMetrics) RunSink() RunEventSink {
	return RunEventSink{metrics: m}
}

// RunEventSink implements events.Sink over PipelineMetrics.
type RunEventSink struct {
	metrics *PipelineMetrics
}

// Emit implements events.Sink.
func (s RunEventSink) Emit(ctx context.Context, ev events.Event) error {
	if ev.Type == events.TypeRunCompleted {
		s.metrics.ObserveRun(ev.Pipeline, ev.Status, time.Duration(ev.DurationMS)*time.Millisecond)
	}
	return nil
}

var _ events.Sink = RunEventSink{}
