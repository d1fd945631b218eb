package scheduler

import (
	"fmt"
	"time"

	"github.com/nomis52/orca/pipeline"
)

// RunStatus is the overall outcome of a pipeline run.
type RunStatus int

const (
	// RunSuccess means every stage terminated OK or SKIP.
	RunSuccess RunStatus = iota

	// RunCancelled means the run was externally cancelled or a guard stage
	// issued a deliberate cancellation. Not a failure.
	RunCancelled

	// RunFailed means at least one stage failed.
	RunFailed
)

// String returns the event/metric label for the status.
func (s RunStatus) String() string {
	switch s {
	case RunSuccess:
		return "success"
	case RunCancelled:
		return "cancelled"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RunRecord is the finalized aggregate of one pipeline run: exactly one is
// produced per run id, when the graph runner returns.
type RunRecord struct {
	RunID      string                          `json:"run_id"`
	RequestID  string                          `json:"request_id,omitempty"`
	Pipeline   string                          `json:"pipeline"`
	Status     RunStatus                       `json:"status"`
	StartedAt  time.Time                       `json:"started_at"`
	FinishedAt time.Time                       `json:"finished_at"`
	Duration   time.Duration                   `json:"duration"`
	Results    map[string]pipeline.StageResult `json:"results"`

	// FirstFailure names the first stage to fail (by completion order).
	// Empty when no stage failed.
	FirstFailure string `json:"first_failure,omitempty"`

	// CancelReason carries the guard's reason for a guard-initiated
	// cancellation, or the cancellation cause for an external one.
	CancelReason string `json:"cancel_reason,omitempty"`
}

// Succeeded reports whether the run completed with status success.
func (r *RunRecord) Succeeded() bool { return r.Status == RunSuccess }

// RunError is the single typed error a FAILED run surfaces to the caller.
// Partial results are preserved on Record for diagnostics.
type RunError struct {
	RunID       string
	Pipeline    string
	FailedStage string
	Err         error
	Retryable   bool
	Record      *RunRecord
}

// Error implements error.
func (e *RunError) Error() string {
	return fmt.Sprintf("pipeline %s run %s failed at stage %s: %v", e.Pipeline, e.RunID, e.FailedStage, e.Err)
}

// Unwrap returns the first failing stage's error.
func (e *RunError) Unwrap() error { return e.Err }

// RunConfig is the mutable run-scoped configuration bag: provider handles,
// feature flags, per-run overrides. Shared pipeline definitions stay
// read-only; anything run-specific travels here.
type RunConfig struct {
	// ConcurrencyLimit bounds how many stages execute at once. Zero means
	// unbounded: independent stages all run concurrently.
	ConcurrencyLimit int

	// SuppressDeadLetter skips failure capture for this run. Replayed
	// dead-letter entries set it so a failed replay reschedules the
	// existing entry instead of minting a new one.
	SuppressDeadLetter bool

	// Values holds free-form run-scoped handles and flags.
	Values map[string]any
}

// Value returns a run-scoped value, or nil.
func (c *RunConfig) Value(key string) any {
	if c == nil || c.Values == nil {
		return nil
	}
	return c.Values[key]
}
