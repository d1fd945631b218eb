package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Emit(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

type panickingSink struct{}

func (panickingSink) Emit(context.Context, Event) error { panic("bad sink") }

func TestMultiSink_IsolatesFailures(t *testing.T) {
	healthy := &recordingSink{}
	broken := &recordingSink{err: errors.New("backend down")}

	multi := NewMultiSink(slog.Default(), broken, panickingSink{}, healthy)
	err := multi.Emit(context.Background(), Event{Type: TypeStageCompleted, RunID: "r1"})

	require.NoError(t, err, "multi sink never surfaces sink failures")
	require.Len(t, healthy.all(), 1)
	assert.Equal(t, "r1", healthy.all()[0].RunID)
}

type recordingWriter struct {
	mu     sync.Mutex
	events []Event
}

func (w *recordingWriter) AppendEvent(ctx context.Context, ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, ev)
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

func TestStoreSink_WritesInBackground(t *testing.T) {
	writer := &recordingWriter{}
	sink := NewStoreSink(writer, 16, slog.Default())
	sink.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Emit(context.Background(), Event{Type: TypeStageCompleted}))
	}
	sink.Close()

	assert.Equal(t, 5, writer.count())
	assert.Zero(t, sink.Dropped())
}

func TestStoreSink_DropsOldestUnderBackpressure(t *testing.T) {
	writer := &recordingWriter{}
	sink := NewStoreSink(writer, 2, slog.Default())
	// Worker not started: the queue fills.

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Emit(context.Background(), Event{RunID: "r", DurationMS: int64(i)}))
	}
	assert.Less(t, time.Since(start), time.Second, "emit must never block")
	assert.Equal(t, 3, sink.Dropped())

	sink.Start(context.Background())
	sink.Close()

	// The two newest events survived.
	require.Equal(t, 2, writer.count())
	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Equal(t, int64(3), writer.events[0].DurationMS)
	assert.Equal(t, int64(4), writer.events[1].DurationMS)
}

func TestSummarizePayload_Truncates(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}

	out := SummarizePayload(map[string]any{"text": string(long), "n": 42})
	assert.Equal(t, "42", out["n"])
	assert.LessOrEqual(t, len(out["text"]), maxSummaryLen+3)

	assert.Nil(t, SummarizePayload(nil))
}
