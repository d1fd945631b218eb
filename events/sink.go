package events

import (
	"context"
	"log/slog"
)

// Sink receives wide events. Emit may fail; callers treat emission as
// best-effort and never surface sink errors as pipeline errors.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, Event) error { return nil }

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink logging at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "event_sink")}
}

// Emit implements Sink.
func (s *LogSink) Emit(ctx context.Context, ev Event) error {
	s.logger.Info("wide event",
		"type", ev.Type,
		"pipeline", ev.Pipeline,
		"run_id", ev.RunID,
		"stage", ev.Stage,
		"status", ev.Status,
		"duration_ms", ev.DurationMS,
	)
	return nil
}

// MultiSink fans an event out to several sinks, isolating each target's
// failures: one failing backend never stops delivery to the others.
type MultiSink struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewMultiSink composes sinks. Failures are logged, never returned.
func NewMultiSink(logger *slog.Logger, sinks ...Sink) *MultiSink {
	return &MultiSink{
		sinks:  sinks,
		logger: logger.With("component", "event_sink"),
	}
}

// Emit implements Sink. Always returns nil.
func (m *MultiSink) Emit(ctx context.Context, ev Event) error {
	for _, s := range m.sinks {
		if err := m.emitOne(ctx, s, ev); err != nil {
			m.logger.Warn("sink emit failed", "type", ev.Type, "run_id", ev.RunID, "error", err)
		}
	}
	return nil
}

// emitOne isolates panics as well as errors; a buggy sink is a telemetry
// problem, not a pipeline problem.
func (m *MultiSink) emitOne(ctx context.Context, s Sink, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Warn("sink panicked", "type", ev.Type, "panic", p)
		}
	}()
	return s.Emit(ctx, ev)
}
