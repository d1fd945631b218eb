// Package provider defines the contracts for external model backends
// invoked by pipeline stages, plus a scripted in-memory implementation
// for tests and demos.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransient marks provider failures worth retrying: rate limits,
// gateway errors, timeouts upstream. Wrap with Transientf or check
// with IsTransient.
var ErrTransient = errors.New("transient provider error")

// Transientf builds a retryable provider error.
func Transientf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrTransient}, args...)...)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// ChatRequest is one model invocation.
type ChatRequest struct {
	Model    string
	System   string
	Messages []ChatMessage
}

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is a completed model invocation.
type ChatResponse struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// ChatModel generates a response to a conversation.
type ChatModel interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
