package pipeline

import "time"

// Message is a single turn of conversation history carried by the snapshot.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextSnapshot is the immutable per-run identity and input data. It is
// created once by the calling service and treated as the genesis value for
// the run: stages read it but never mutate it, and stage outputs accumulate
// in per-stage Input views instead.
//
// All identifiers are opaque strings (typically UUIDs).
type ContextSnapshot struct {
	RunID         string    `json:"run_id"`
	RequestID     string    `json:"request_id"`
	SessionID     string    `json:"session_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	OrgID         string    `json:"org_id,omitempty"`
	InteractionID string    `json:"interaction_id,omitempty"`
	Topology      string    `json:"topology"`
	ExecutionMode string    `json:"execution_mode,omitempty"`
	InputText     string    `json:"input_text,omitempty"`
	Messages      []Message `json:"messages,omitempty"`

	// Extra holds caller-supplied free-form input data.
	Extra map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep copy of the snapshot. The engine clones snapshots
// before handing them to collaborators that outlive the run (dead-letter
// entries) so later runs cannot observe shared state.
func (s ContextSnapshot) Clone() ContextSnapshot {
	out := s
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	if s.Extra != nil {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
