package interceptor

import (
	"context"
	"log/slog"
	"time"

	"github.com/nomis52/orca/pipeline"
	"github.com/nomis52/orca/trace"
)

// Tracing opens a span per stage execution. Span recording is observational
// only; a broken tracer must not affect the run.
type Tracing struct {
	tracer trace.Tracer
}

// NewTracing returns a Tracing interceptor over the given tracer.
func NewTracing(tracer trace.Tracer) *Tracing {
	return &Tracing{tracer: tracer}
}

// Priority implements Interceptor.
func (t *Tracing) Priority() int { return PriorityTracing }

// Intercept implements Interceptor.
func (t *Tracing) Intercept(ctx context.Context, info StageInfo, in pipeline.Input, next Invoker) pipeline.StageResult {
	ctx, span := t.tracer.Start(ctx, "stage."+info.Stage)
	span.SetAttr("pipeline", info.Pipeline)
	span.SetAttr("run_id", info.RunID)
	span.SetAttr("kind", info.Kind.String())

	res := next(ctx, in)
	span.End(res.Status.String())
	return res
}

// StageObserver receives one observation per stage attempt. The metrics
// package provides the production implementation.
type StageObserver interface {
	ObserveStage(pipelineName, stage, kind, status string, d time.Duration)
}

// Metrics records duration and outcome per stage attempt.
type Metrics struct {
	observer StageObserver
}

// NewMetrics returns a Metrics interceptor reporting to observer.
func NewMetrics(observer StageObserver) *Metrics {
	return &Metrics{observer: observer}
}

// Priority implements Interceptor.
func (m *Metrics) Priority() int { return PriorityMetrics }

// Intercept implements Interceptor.
func (m *Metrics) Intercept(ctx context.Context, info StageInfo, in pipeline.Input, next Invoker) pipeline.StageResult {
	res := next(ctx, in)
	m.observer.ObserveStage(info.Pipeline, info.Stage, info.Kind.String(), res.Status.String(), res.Duration)
	return res
}

// Logging emits a structured log line per stage start and end.
type Logging struct {
	logger *slog.Logger
}

// NewLogging returns a Logging interceptor.
func NewLogging(logger *slog.Logger) *Logging {
	return &Logging{logger: logger.With("component", "interceptor")}
}

// Priority implements Interceptor. Logging runs innermost so it observes
// each attempt.
func (l *Logging) Priority() int { return PriorityLogging }

// Intercept implements Interceptor.
func (l *Logging) Intercept(ctx context.Context, info StageInfo, in pipeline.Input, next Invoker) pipeline.StageResult {
	logger := l.logger.With(
		"pipeline", info.Pipeline,
		"run_id", info.RunID,
		"stage", info.Stage,
		"kind", info.Kind.String(),
	)
	logger.Debug("stage starting")

	res := next(ctx, in)

	switch res.Status {
	case pipeline.StatusFail:
		logger.Warn("stage failed", "duration", res.Duration, "error", res.Err, "retryable", res.Retryable)
	case pipeline.StatusCancel:
		logger.Info("stage cancelled", "duration", res.Duration, "reason", res.Reason)
	default:
		logger.Info("stage completed", "status", res.Status.String(), "duration", res.Duration)
	}
	return res
}
