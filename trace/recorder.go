package trace

import (
	"context"
	"sync"
	"time"
)

type parentKey struct{}

// Recorder is a concurrency-safe in-memory Tracer. Spans are collected as
// they end; Snapshot returns a point-in-time copy. Intended for tests and
// the demo binary.
type Recorder struct {
	mu    sync.Mutex
	spans []SpanRecord
	now   func() time.Time
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// Start implements Tracer. The span's parent is taken from the context so
// nested spans record their lineage.
func (r *Recorder) Start(ctx context.Context, name string) (context.Context, Span) {
	parent, _ := ctx.Value(parentKey{}).(string)
	s := &recordedSpan{
		recorder: r,
		record: SpanRecord{
			Name:   name,
			Start:  r.now(),
			Parent: parent,
			Attrs:  make(map[string]string),
		},
	}
	return context.WithValue(ctx, parentKey{}, name), s
}

// Snapshot returns a copy of all finished spans.
func (r *Recorder) Snapshot() []SpanRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SpanRecord, len(r.spans))
	copy(out, r.spans)
	return out
}

func (r *Recorder) add(rec SpanRecord) {
	r.mu.Lock()
	r.spans = append(r.spans, rec)
	r.mu.Unlock()
}

type recordedSpan struct {
	recorder *Recorder
	mu       sync.Mutex
	record   SpanRecord
	ended    bool
}

func (s *recordedSpan) SetAttr(key, value string) {
	s.mu.Lock()
	s.record.Attrs[key] = value
	s.mu.Unlock()
}

func (s *recordedSpan) End(status string) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.record.Status = status
	s.record.End = s.recorder.now()
	s.record.Duration = s.record.End.Sub(s.record.Start)
	rec := s.record
	s.mu.Unlock()
	s.recorder.add(rec)
}
