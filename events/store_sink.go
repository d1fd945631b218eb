package events

import (
	"context"
	"log/slog"
	"sync"
)

// EventWriter appends events to durable storage. The store package provides
// the production implementations.
type EventWriter interface {
	AppendEvent(ctx context.Context, ev Event) error
}

// StoreSink decouples the run from durable event writes: Emit enqueues onto
// a bounded queue consumed by a background worker. When the queue is full
// the oldest event is dropped, bounding memory under load; the run is never
// blocked.
type StoreSink struct {
	writer EventWriter
	logger *slog.Logger

	mu      sync.Mutex
	queue   []Event
	wake    chan struct{}
	closed  bool
	done    chan struct{}
	limit   int
	dropped int
}

// NewStoreSink returns a sink writing to writer through a queue of the
// given capacity. Call Start before emitting and Close on shutdown.
func NewStoreSink(writer EventWriter, capacity int, logger *slog.Logger) *StoreSink {
	if capacity <= 0 {
		capacity = 256
	}
	return &StoreSink{
		writer: writer,
		logger: logger.With("component", "event_sink"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		limit:  capacity,
	}
}

// Start launches the background writer. The worker drains the queue until
// Close is called, then flushes whatever remains.
func (s *StoreSink) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Emit implements Sink. Never blocks: a full queue drops the oldest event.
func (s *StoreSink) Emit(ctx context.Context, ev Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if len(s.queue) >= s.limit {
		s.queue = s.queue[1:]
		s.dropped++
		dropped := s.dropped
		s.queue = append(s.queue, ev)
		s.mu.Unlock()
		s.logger.Warn("event queue full, dropped oldest", "dropped_total", dropped)
	} else {
		s.queue = append(s.queue, ev)
		s.mu.Unlock()
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close stops accepting events and waits for the worker to flush.
func (s *StoreSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
}

// Dropped returns how many events were discarded under backpressure.
func (s *StoreSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *StoreSink) loop(ctx context.Context) {
	defer close(s.done)
	for {
		s.drain(ctx)

		s.mu.Lock()
		closed := s.closed
		pending := len(s.queue)
		s.mu.Unlock()
		if closed && pending == 0 {
			return
		}
		if pending > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			s.drain(ctx)
			return
		case <-s.wake:
		}
	}
}

func (s *StoreSink) drain(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.writer.AppendEvent(ctx, ev); err != nil {
			s.logger.Warn("event write failed", "type", ev.Type, "run_id", ev.RunID, "error", err)
		}
	}
}
