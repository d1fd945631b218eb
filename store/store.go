// Package store persists finalized run records and wide events. The
// in-memory implementation backs tests and single-process deployments;
// the Postgres implementation is the durable production store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nomis52/orca/events"
	"github.com/nomis52/orca/scheduler"
)

var (
	// ErrRunNotFound is returned when no run matches the requested id.
	ErrRunNotFound = errors.New("run not found")

	// ErrDuplicateRun is returned when a run id is inserted twice.
	ErrDuplicateRun = errors.New("duplicate run id")
)

// Filter narrows ListRuns. Zero values match everything.
type Filter struct {
	Pipeline  string
	RequestID string
	Status    string
	Since     time.Time
	Limit     int
}

// Store is the combined run and event store. It satisfies both
// scheduler.RunWriter and events.EventWriter so one instance can be
// wired into the scheduler and a StoreSink.
type Store interface {
	InsertRun(ctx context.Context, rec *scheduler.RunRecord) error
	GetRun(ctx context.Context, runID string) (*scheduler.RunRecord, error)
	ListRuns(ctx context.Context, f Filter) ([]*scheduler.RunRecord, error)

	AppendEvent(ctx context.Context, ev events.Event) error
	ListEvents(ctx context.Context, runID string) ([]events.Event, error)
}
