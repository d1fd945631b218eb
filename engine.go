// Package orca is a DAG pipeline orchestration engine. Pipelines are
// built from typed stages with declared dependencies, executed
// concurrently with cascading cancellation, observed through an
// interceptor chain and wide events, and recovered through a
// dead-letter queue when they fail.
package orca

import (
	"context"

	"github.com/nomis52/orca/pipeline"
	"github.com/nomis52/orca/scheduler"
)

// Engine is the inbound surface: it resolves pipeline names through a
// registry and executes them with a shared scheduler.
type Engine struct {
	registry  *pipeline.Registry
	scheduler *scheduler.Scheduler
}

// NewEngine combines a registry and a scheduler.
func NewEngine(registry *pipeline.Registry, sched *scheduler.Scheduler) *Engine {
	return &Engine{registry: registry, scheduler: sched}
}

// Registry exposes the pipeline registry for registration at startup.
func (e *Engine) Registry() *pipeline.Registry { return e.registry }

// Run executes the named pipeline against snapshot. It returns
// pipeline.ErrPipelineNotFound for unknown names; otherwise the
// semantics are those of Scheduler.Run.
func (e *Engine) Run(ctx context.Context, pipelineName string, snapshot pipeline.ContextSnapshot, cfg *scheduler.RunConfig) (*scheduler.RunRecord, error) {
	def, err := e.registry.Lookup(pipelineName)
	if err != nil {
		return nil, err
	}
	return e.scheduler.Run(ctx, def, snapshot, cfg)
}

// Replay adapts Run for the dead-letter replayer, which only needs the
// error. Failure capture is suppressed: the replayed entry already sits
// in the queue, and a failed attempt must reschedule it, not enqueue a
// second copy.
func (e *Engine) Replay(ctx context.Context, pipelineName string, snapshot pipeline.ContextSnapshot) error {
	_, err := e.Run(ctx, pipelineName, snapshot, &scheduler.RunConfig{SuppressDeadLetter: true})
	return err
}
