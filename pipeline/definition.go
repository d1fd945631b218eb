package pipeline

import (
	"errors"
	"fmt"
)

// Build-time validation failures. All are configuration errors: they fail
// fast before any run starts and are never retryable.
var (
	ErrEmptyPipeline     = errors.New("pipeline has no stages")
	ErrDuplicateStage    = errors.New("duplicate stage name")
	ErrUnknownDependency = errors.New("dependency does not name a declared stage")
	ErrSelfDependency    = errors.New("stage depends on itself")
	ErrCycle             = errors.New("dependency cycle")
	ErrNilRunner         = errors.New("stage has no runner")
)

// Definition is a named, immutable DAG of stages. Built once via Builder and
// shared read-only across all concurrent runs.
type Definition struct {
	name       string
	stages     map[string]StageDef
	order      []string            // topological order, for deterministic iteration
	dependents map[string][]string // stage -> stages that depend on it
}

// Name returns the pipeline name.
func (d *Definition) Name() string { return d.name }

// Len returns the number of stages.
func (d *Definition) Len() int { return len(d.stages) }

// Stage returns the declaration for name.
func (d *Definition) Stage(name string) (StageDef, bool) {
	s, ok := d.stages[name]
	return s, ok
}

// Stages returns all stage declarations in topological order.
func (d *Definition) Stages() []StageDef {
	out := make([]StageDef, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.stages[name])
	}
	return out
}

// Dependents returns the names of the stages that depend directly on name.
func (d *Definition) Dependents(name string) []string {
	deps := d.dependents[name]
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// InDegrees returns a fresh dependency count per stage, computed from the
// static graph. The scheduler seeds its ready set from the zero entries.
func (d *Definition) InDegrees() map[string]int {
	out := make(map[string]int, len(d.stages))
	for name, s := range d.stages {
		out[name] = len(s.DependsOn)
	}
	return out
}

// Builder accumulates stage declarations for a named pipeline. Declaration
// order does not matter; dependencies may reference stages declared later.
type Builder struct {
	name   string
	stages []StageDef
}

// NewBuilder starts a pipeline definition with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Stage declares a stage. deps name the stages whose outputs this stage may
// read; an empty deps list makes the stage a root.
func (b *Builder) Stage(name string, kind StageKind, runner Stage, deps ...string) *Builder {
	b.stages = append(b.stages, StageDef{
		Name:      name,
		Kind:      kind,
		DependsOn: append([]string(nil), deps...),
		Runner:    runner,
	})
	return b
}

// Build validates the declarations and returns an immutable Definition.
// Validation rejects empty pipelines, duplicate stage names, nil runners,
// unknown and self dependencies, and cycles.
func (b *Builder) Build() (*Definition, error) {
	if len(b.stages) == 0 {
		return nil, fmt.Errorf("pipeline %q: %w", b.name, ErrEmptyPipeline)
	}

	stages := make(map[string]StageDef, len(b.stages))
	for _, s := range b.stages {
		if _, exists := stages[s.Name]; exists {
			return nil, fmt.Errorf("pipeline %q: stage %q: %w", b.name, s.Name, ErrDuplicateStage)
		}
		if s.Runner == nil {
			return nil, fmt.Errorf("pipeline %q: stage %q: %w", b.name, s.Name, ErrNilRunner)
		}
		stages[s.Name] = s
	}

	dependents := make(map[string][]string, len(stages))
	for _, s := range b.stages {
		for _, dep := range s.DependsOn {
			if dep == s.Name {
				return nil, fmt.Errorf("pipeline %q: stage %q: %w", b.name, s.Name, ErrSelfDependency)
			}
			if _, ok := stages[dep]; !ok {
				return nil, fmt.Errorf("pipeline %q: stage %q depends on %q: %w", b.name, s.Name, dep, ErrUnknownDependency)
			}
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	order, err := topoSort(b.stages, dependents)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", b.name, err)
	}

	return &Definition{
		name:       b.name,
		stages:     stages,
		order:      order,
		dependents: dependents,
	}, nil
}

// topoSort runs Kahn's algorithm over the declared edges. Declaration order
// is used as the tie-break so the result is deterministic.
func topoSort(stages []StageDef, dependents map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(stages))
	for _, s := range stages {
		inDegree[s.Name] = len(s.DependsOn)
	}

	var queue []string
	for _, s := range stages {
		if inDegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}

	order := make([]string, 0, len(stages))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, next := range dependents[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(stages) {
		var stuck []string
		for name, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		return nil, fmt.Errorf("%w involving %d stage(s) %v", ErrCycle, len(stuck), stuck)
	}
	return order, nil
}
