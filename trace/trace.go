// Package trace provides a minimal span abstraction for the orchestrator.
// The engine depends only on the Tracer interface; production deployments
// can adapt it to their tracing backend, and tests use the in-memory
// Recorder.
package trace

import (
	"context"
	"time"
)

// Span is one timed unit of work. End must be called exactly once.
type Span interface {
	// SetAttr attaches a string attribute to the span.
	SetAttr(key, value string)

	// End closes the span with a final status label ("ok", "fail", ...).
	End(status string)
}

// Tracer starts spans. Implementations must be safe for concurrent use and
// must never panic; span recording is observational only and cannot affect
// execution behavior.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, Span)
}

// NopTracer discards all spans.
type NopTracer struct{}

// Start implements Tracer.
func (NopTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	return ctx, nopSpan{}
}

type nopSpan struct{}

func (nopSpan) SetAttr(string, string) {}
func (nopSpan) End(string)             {}

// SpanRecord is a finished span captured by the Recorder.
type SpanRecord struct {
	Name     string
	Status   string
	Start    time.Time
	End      time.Time
	Attrs    map[string]string
	Parent   string
	Duration time.Duration
}
