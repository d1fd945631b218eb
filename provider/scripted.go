package provider

import (
	"context"
	"sync"
)

// Scripted is an in-memory ChatModel that returns canned responses in
// order. When the script runs out it repeats the last response. Errors
// can be interleaved to exercise retry and breaker behavior.
type Scripted struct {
	id string

	mu       sync.Mutex
	script   []ScriptStep
	position int
	calls    int
}

// ScriptStep is one canned reply. Err takes precedence over Response.
type ScriptStep struct {
	Response ChatResponse
	Err      error
}

// NewScripted creates a Scripted provider identified by id.
func NewScripted(id string, steps ...ScriptStep) *Scripted {
	return &Scripted{id: id, script: steps}
}

// ProviderID identifies this backend for circuit breaking.
func (s *Scripted) ProviderID() string { return s.id }

// Calls returns how many times Chat has been invoked.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Chat implements ChatModel.
func (s *Scripted) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return ChatResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.script) == 0 {
		return ChatResponse{Text: "ok", Model: req.Model}, nil
	}
	step := s.script[s.position]
	if s.position < len(s.script)-1 {
		s.position++
	}
	if step.Err != nil {
		return ChatResponse{}, step.Err
	}
	return step.Response, nil
}

var _ ChatModel = (*Scripted)(nil)
