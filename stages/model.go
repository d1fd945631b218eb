package stages

import (
	"context"

	"github.com/nomis52/orca/pipeline"
	"github.com/nomis52/orca/provider"
)

// ModelInvoke calls the chat model with the snapshot's conversation
// plus any history the enrichment stage loaded.
type ModelInvoke struct {
	model      provider.ChatModel
	modelName  string
	providerID string
	system     string
}

// ModelOption configures a ModelInvoke.
type ModelOption func(*ModelInvoke)

// WithSystemPrompt sets the system prompt sent on every request.
func WithSystemPrompt(s string) ModelOption {
	return func(m *ModelInvoke) { m.system = s }
}

// NewModelInvoke creates the invocation stage. providerID identifies
// the backend for circuit breaking; modelName is passed through on the
// request.
func NewModelInvoke(model provider.ChatModel, providerID, modelName string, opts ...ModelOption) *ModelInvoke {
	m := &ModelInvoke{model: model, modelName: modelName, providerID: providerID}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ProviderID implements pipeline.ProviderIdentified.
func (m *ModelInvoke) ProviderID() string { return m.providerID }

// Execute implements pipeline.Stage.
func (m *ModelInvoke) Execute(ctx context.Context, in pipeline.Input) pipeline.StageResult {
	snap := in.Snapshot()

	var msgs []provider.ChatMessage
	if history, ok := in.Value(StageSessionEnrich, "history"); ok {
		if hist, ok := history.([]provider.ChatMessage); ok {
			msgs = append(msgs, hist...)
		}
	}
	for _, m := range snap.Messages {
		msgs = append(msgs, provider.ChatMessage{Role: m.Role, Content: m.Content})
	}
	if snap.InputText != "" {
		msgs = append(msgs, provider.ChatMessage{Role: "user", Content: snap.InputText})
	}

	resp, err := m.model.Chat(ctx, provider.ChatRequest{
		Model:    m.modelName,
		System:   m.system,
		Messages: msgs,
	})
	if err != nil {
		return pipeline.Fail(err, provider.IsTransient(err))
	}
	return pipeline.OK(map[string]any{
		"response":      resp.Text,
		"model":         resp.Model,
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
	})
}
