package stages

import (
	"context"
	"fmt"

	"github.com/nomis52/orca/pipeline"
	"github.com/nomis52/orca/provider"
)

// SessionStore loads prior conversation turns for a session.
type SessionStore interface {
	History(ctx context.Context, sessionID string) ([]provider.ChatMessage, error)
}

// SessionStoreFunc adapts a function to SessionStore.
type SessionStoreFunc func(ctx context.Context, sessionID string) ([]provider.ChatMessage, error)

func (f SessionStoreFunc) History(ctx context.Context, sessionID string) ([]provider.ChatMessage, error) {
	return f(ctx, sessionID)
}

// SessionEnrich loads conversation history for the session, when there
// is one. Runs without a session id skip enrichment and the pipeline
// proceeds on the snapshot alone.
type SessionEnrich struct {
	store SessionStore
}

// NewSessionEnrich creates the enrichment stage backed by store.
func NewSessionEnrich(store SessionStore) *SessionEnrich {
	return &SessionEnrich{store: store}
}

// Execute implements pipeline.Stage.
func (e *SessionEnrich) Execute(ctx context.Context, in pipeline.Input) pipeline.StageResult {
	sessionID := in.Snapshot().SessionID
	if sessionID == "" {
		return pipeline.Skip("no session id")
	}
	history, err := e.store.History(ctx, sessionID)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("load history for session %s: %w", sessionID, err), true)
	}
	return pipeline.OK(map[string]any{
		"history": history,
		"turns":   len(history),
	})
}
