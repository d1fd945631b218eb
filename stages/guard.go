// Package stages provides the reference stages for the chat pipeline:
// input guarding, session enrichment, model invocation, and response
// persistence. They double as working examples of each stage kind.
package stages

import (
	"context"
	"strings"

	"github.com/nomis52/orca/pipeline"
)

// Stage names as registered in the chat pipeline.
const (
	StageInputGuard      = "input_guard"
	StageSessionEnrich   = "session_enrich"
	StageModelInvoke     = "model_invoke"
	StageResponsePersist = "response_persist"
)

// Guard cancellation reasons.
const (
	ReasonEmptyInput  = "empty_input"
	ReasonUnsafeInput = "unsafe_input"
)

// InputGuard validates the incoming text before any other stage runs.
// A rejected input cancels the whole run; that is a policy outcome,
// not a failure.
type InputGuard struct {
	blocked []string
}

// NewInputGuard creates a guard rejecting inputs that contain any of
// the blocked terms (case-insensitive).
func NewInputGuard(blocked ...string) *InputGuard {
	lowered := make([]string, len(blocked))
	for i, b := range blocked {
		lowered[i] = strings.ToLower(b)
	}
	return &InputGuard{blocked: lowered}
}

// Execute implements pipeline.Stage.
func (g *InputGuard) Execute(ctx context.Context, in pipeline.Input) pipeline.StageResult {
	text := strings.TrimSpace(in.Snapshot().InputText)
	if text == "" {
		return pipeline.Cancel(ReasonEmptyInput)
	}
	lowered := strings.ToLower(text)
	for _, term := range g.blocked {
		if strings.Contains(lowered, term) {
			return pipeline.Cancel(ReasonUnsafeInput)
		}
	}
	return pipeline.OK(map[string]any{"verdict": "pass", "length": len(text)})
}
