package deadletter

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Queue stores dead-letter entries. Implementations must be safe for
// concurrent use.
type Queue interface {
	// Enqueue stores a new entry.
	Enqueue(ctx context.Context, e *Entry) error

	// Get returns the entry with the given id, or ErrEntryNotFound.
	Get(ctx context.Context, id string) (*Entry, error)

	// ListByStatus returns entries with the given status ordered by
	// NextAttemptAt ascending. limit <= 0 means no limit.
	ListByStatus(ctx context.Context, status string, limit int) ([]*Entry, error)

	// UpdateStatus moves an entry through the lifecycle; the note is
	// attached for operator context.
	UpdateStatus(ctx context.Context, id, status, note string) error

	// RecordAttempt updates the retry bookkeeping after a replay.
	RecordAttempt(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error
}

// MemoryQueue keeps entries in process memory.
type MemoryQueue struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]*Entry)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, e *Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *e
	q.entries[e.ID] = &cp
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, id string) (*Entry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (q *MemoryQueue) ListByStatus(ctx context.Context, status string, limit int) ([]*Entry, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []*Entry
	for _, e := range q.entries {
		if e.Status == status {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *MemoryQueue) UpdateStatus(ctx context.Context, id, status, note string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	if err := ValidateTransition(e.Status, status); err != nil {
		return err
	}
	e.Status = status
	if note != "" {
		e.Note = note
	}
	e.UpdatedAt = time.Now()
	return nil
}

func (q *MemoryQueue) RecordAttempt(ctx context.Context, id string, attempts int, nextAttemptAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.Attempts = attempts
	e.NextAttemptAt = nextAttemptAt
	e.UpdatedAt = time.Now()
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
