package pipeline

import "time"

// StageStatus is the terminal status of a stage execution.
type StageStatus int

const (
	// StatusOK indicates the stage ran and produced its payload.
	StatusOK StageStatus = iota

	// StatusSkip indicates the stage ran but had nothing to do. Dependents
	// see an absent payload, not an error.
	StatusSkip

	// StatusCancel indicates the stage did not complete: either it issued a
	// deliberate cancellation (guards), an upstream dependency failed or was
	// cancelled, or the run itself was cancelled.
	StatusCancel

	// StatusFail indicates the stage ran and failed.
	StatusFail
)

// String returns the metric/event label for the status.
func (s StageStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSkip:
		return "skip"
	case StatusCancel:
		return "cancel"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// StageResult is the terminal outcome of one stage attempt. Results are
// recorded once per stage per run; a retrying interceptor replaces the prior
// attempt's result atomically rather than mutating it.
type StageResult struct {
	// Status is the terminal status.
	Status StageStatus

	// Duration is the wall time spent executing the stage. Zero for stages
	// that never executed (cascaded cancellations).
	Duration time.Duration

	// Payload carries the data produced by the stage, consumed by
	// dependents. Only OK results carry a payload.
	Payload map[string]any

	// Reason is a human-readable explanation for SKIP and CANCEL results.
	Reason string

	// Upstream names the dependency whose failure or cancellation caused
	// this CANCEL. Empty when the stage itself produced the result.
	Upstream string

	// Err is the failure cause for FAIL results.
	Err error

	// Retryable marks a FAIL as safe to retry. Timeouts and open-circuit
	// short-circuits are always retryable.
	Retryable bool
}

// OK returns a successful result carrying payload.
func OK(payload map[string]any) StageResult {
	return StageResult{Status: StatusOK, Payload: payload}
}

// Skip returns a SKIP result with a reason. Skipped stages contribute no
// payload but do not block dependents.
func Skip(reason string) StageResult {
	return StageResult{Status: StatusSkip, Reason: reason}
}

// Cancel returns a deliberate CANCEL result with a reason. From a guard
// stage this aborts the run with overall status CANCELLED.
func Cancel(reason string) StageResult {
	return StageResult{Status: StatusCancel, Reason: reason}
}

// Fail returns a FAIL result wrapping err.
func Fail(err error, retryable bool) StageResult {
	return StageResult{Status: StatusFail, Err: err, Retryable: retryable}
}

// IsSuccess reports whether the result allows dependents to run (OK or SKIP).
func (r StageResult) IsSuccess() bool {
	return r.Status == StatusOK || r.Status == StatusSkip
}
