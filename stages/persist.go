package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/nomis52/orca/pipeline"
)

// Response is the completed interaction written by ResponsePersist.
type Response struct {
	RunID         string
	InteractionID string
	SessionID     string
	UserID        string
	Input         string
	Output        string
	Model         string
	CreatedAt     time.Time
}

// ResponseWriter persists completed responses.
type ResponseWriter interface {
	WriteResponse(ctx context.Context, resp Response) error
}

// ResponseWriterFunc adapts a function to ResponseWriter.
type ResponseWriterFunc func(ctx context.Context, resp Response) error

func (f ResponseWriterFunc) WriteResponse(ctx context.Context, resp Response) error {
	return f(ctx, resp)
}

// ResponsePersist writes the model output as the run's side effect.
type ResponsePersist struct {
	writer ResponseWriter
}

// NewResponsePersist creates the persistence stage backed by writer.
func NewResponsePersist(writer ResponseWriter) *ResponsePersist {
	return &ResponsePersist{writer: writer}
}

// Execute implements pipeline.Stage.
func (p *ResponsePersist) Execute(ctx context.Context, in pipeline.Input) pipeline.StageResult {
	snap := in.Snapshot()
	output := in.String(StageModelInvoke, "response")
	model := in.String(StageModelInvoke, "model")

	resp := Response{
		RunID:         snap.RunID,
		InteractionID: snap.InteractionID,
		SessionID:     snap.SessionID,
		UserID:        snap.UserID,
		Input:         snap.InputText,
		Output:        output,
		Model:         model,
		CreatedAt:     time.Now(),
	}
	if err := p.writer.WriteResponse(ctx, resp); err != nil {
		return pipeline.Fail(fmt.Errorf("write response for run %s: %w", snap.RunID, err), true)
	}
	return pipeline.OK(map[string]any{"interaction_id": snap.InteractionID})
}
