// Package deadletter captures failed pipeline runs and replays them.
//
// Every FAILED run is stored as an Entry together with the context
// snapshot it ran against, so the run can be re-executed later exactly
// as it was first submitted. A Replayer sweeps pending entries on a
// schedule and retries them with exponential backoff until they
// succeed or exhaust their attempts.
package deadletter

import (
	"errors"
	"fmt"
	"time"

	"github.com/nomis52/orca/pipeline"
)

// Entry statuses. An entry starts pending and moves through the
// lifecycle as operators or the replayer act on it.
const (
	StatusPending       = "pending"
	StatusInvestigating = "investigating"
	StatusResolved      = "resolved"
	StatusReprocessed   = "reprocessed"
	StatusAbandoned     = "abandoned"
)

var (
	// ErrEntryNotFound is returned when no entry matches the requested id.
	ErrEntryNotFound = errors.New("dead-letter entry not found")

	// ErrInvalidTransition is returned for a status change the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid dead-letter status transition")
)

// Entry is one captured run failure.
type Entry struct {
	ID          string                   `json:"id" dynamodbav:"id"`
	RunID       string                   `json:"run_id" dynamodbav:"run_id"`
	Pipeline    string                   `json:"pipeline" dynamodbav:"pipeline"`
	FailedStage string                   `json:"failed_stage" dynamodbav:"failed_stage"`
	Error       string                   `json:"error" dynamodbav:"error"`
	Retryable   bool                     `json:"retryable" dynamodbav:"retryable"`
	Snapshot    pipeline.ContextSnapshot `json:"snapshot" dynamodbav:"snapshot"`
	Status      string                   `json:"status" dynamodbav:"status"`
	Attempts    int                      `json:"attempts" dynamodbav:"attempts"`
	Note        string                   `json:"note,omitempty" dynamodbav:"note,omitempty"`

	// Logs holds the captured log lines of the failed run, when a log
	// source is wired into the recorder.
	Logs []string `json:"logs,omitempty" dynamodbav:"logs,omitempty"`

	CreatedAt     time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" dynamodbav:"updated_at"`
	NextAttemptAt time.Time `json:"next_attempt_at" dynamodbav:"next_attempt_at"`
}

// terminal statuses accept no further transitions.
func terminal(status string) bool {
	return status == StatusResolved || status == StatusReprocessed || status == StatusAbandoned
}

// ValidateTransition checks a status change against the lifecycle:
// pending and investigating entries may move anywhere, terminal
// entries are frozen.
func ValidateTransition(from, to string) error {
	switch to {
	case StatusPending, StatusInvestigating, StatusResolved, StatusReprocessed, StatusAbandoned:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if terminal(from) {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	return nil
}
