// Package events carries the orchestrator's wide events: one structured
// record per stage completion and one per run. Sinks are pluggable and
// best-effort; a down telemetry backend never degrades a run.
package events

import (
	"fmt"
	"time"
)

// Event types emitted by the scheduler.
const (
	TypeStageCompleted = "stage.completed"
	TypeRunCompleted   = "run.completed"
)

// Event is a wide, flat telemetry record. Stage events populate the Stage*
// fields; run events populate Stages with a status per stage name.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`

	// Correlation identifiers from the context snapshot.
	RunID     string `json:"run_id"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	OrgID     string `json:"org_id,omitempty"`

	Pipeline string `json:"pipeline"`

	// Stage event fields.
	Stage      string `json:"stage,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`

	// Payload is a truncated summary of the stage's output, never the full
	// data.
	Payload map[string]string `json:"payload,omitempty"`

	// Stages summarizes every stage's terminal status on a run event.
	Stages map[string]string `json:"stages,omitempty"`
}

// maxSummaryLen bounds each summarized payload value.
const maxSummaryLen = 128

// SummarizePayload flattens a stage payload into bounded strings for a wide
// event. Values are formatted with %v and truncated.
func SummarizePayload(payload map[string]any) map[string]string {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		s := fmt.Sprintf("%v", v)
		if len(s) > maxSummaryLen {
			s = s[:maxSummaryLen] + "..."
		}
		out[k] = s
	}
	return out
}
