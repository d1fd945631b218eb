package store

import (
	"context"
	"sort"
	"sync"

	"github.com/nomis52/orca/events"
	"github.com/nomis52/orca/scheduler"
)

// MemoryStore keeps runs and events in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*scheduler.RunRecord
	order  []string
	events map[string][]events.Event
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]*scheduler.RunRecord),
		events: make(map[string][]events.Event),
	}
}

// InsertRun stores a finalized record. Inserting the same run id twice
// returns ErrDuplicateRun.
func (s *MemoryStore) InsertRun(ctx context.Context, rec *scheduler.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[rec.RunID]; ok {
		return ErrDuplicateRun
	}
	s.runs[rec.RunID] = rec
	s.order = append(s.order, rec.RunID)
	return nil
}

// GetRun returns the record for runID, or ErrRunNotFound.
func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*scheduler.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return rec, nil
}

// ListRuns returns records matching f, newest first.
func (s *MemoryStore) ListRuns(ctx context.Context, f Filter) ([]*scheduler.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*scheduler.RunRecord
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.runs[s.order[i]]
		if f.Pipeline != "" && rec.Pipeline != f.Pipeline {
			continue
		}
		if f.RequestID != "" && rec.RequestID != f.RequestID {
			continue
		}
		if f.Status != "" && rec.Status.String() != f.Status {
			continue
		}
		if !f.Since.IsZero() && rec.StartedAt.Before(f.Since) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// AppendEvent stores a wide event under its run id.
func (s *MemoryStore) AppendEvent(ctx context.Context, ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.RunID] = append(s.events[ev.RunID], ev)
	return nil
}

// ListEvents returns the events recorded for runID in emission order.
func (s *MemoryStore) ListEvents(ctx context.Context, runID string) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.events[runID]
	out := make([]events.Event, len(evs))
	copy(out, evs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

var (
	_ Store               = (*MemoryStore)(nil)
	_ scheduler.RunWriter = (*MemoryStore)(nil)
	_ events.EventWriter  = (*MemoryStore)(nil)
)
