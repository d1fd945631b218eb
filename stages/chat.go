package stages

import (
	"github.com/nomis52/orca/pipeline"
	"github.com/nomis52/orca/provider"
)

// ChatPipelineName is the registry name of the reference chat
// pipeline.
const ChatPipelineName = "chat"

// ChatDeps carries the backends the chat pipeline needs.
type ChatDeps struct {
	Model      provider.ChatModel
	ProviderID string
	ModelName  string
	Sessions   SessionStore
	Responses  ResponseWriter
	Blocked    []string
}

// ChatPipeline builds the reference pipeline: guard the input, enrich
// with session history, invoke the model, persist the response.
func ChatPipeline(deps ChatDeps) (*pipeline.Definition, error) {
	return pipeline.NewBuilder(ChatPipelineName).
		Stage(StageInputGuard, pipeline.KindGuard, NewInputGuard(deps.Blocked...)).
		Stage(StageSessionEnrich, pipeline.KindEnrich, NewSessionEnrich(deps.Sessions), StageInputGuard).
		Stage(StageModelInvoke, pipeline.KindTransform,
			NewModelInvoke(deps.Model, deps.ProviderID, deps.ModelName),
			StageSessionEnrich).
		Stage(StageResponsePersist, pipeline.KindWork, NewResponsePersist(deps.Responses), StageModelInvoke).
		Build()
}

// RegisterChat builds the chat pipeline and adds it to the registry.
func RegisterChat(reg *pipeline.Registry, deps ChatDeps) error {
	def, err := ChatPipeline(deps)
	if err != nil {
		return err
	}
	return reg.Register(def)
}
