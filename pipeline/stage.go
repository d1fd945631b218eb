package pipeline

import "context"

// Stage is a single unit of pipeline work. Implementations return a terminal
// StageResult and never panic; the scheduler converts panics and raw errors
// into FAIL results, but well-behaved stages report failures via Fail.
//
// Stages must honor ctx cancellation: a stage that ignores it is forcibly
// failed by the timeout interceptor instead of being left to run unbounded.
type Stage interface {
	Execute(ctx context.Context, in Input) StageResult
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(ctx context.Context, in Input) StageResult

// Execute implements Stage.
func (f StageFunc) Execute(ctx context.Context, in Input) StageResult {
	return f(ctx, in)
}

// ProviderIdentified is implemented by stages backed by a shared external
// provider (model, transcription, speech). The circuit breaker scopes its
// state to this identity so stages sharing a provider protect each other.
type ProviderIdentified interface {
	ProviderID() string
}

// StageDef is one stage declaration inside a pipeline definition: a unique
// name, an observability kind, the runner, and the names of the stages it
// depends on. StageDefs are owned by the Definition that declares them and
// immutable after Build.
type StageDef struct {
	Name      string
	Kind      StageKind
	DependsOn []string
	Runner    Stage
}
