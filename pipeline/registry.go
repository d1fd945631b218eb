package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicatePipeline is returned when a pipeline name is registered twice.
// Duplicate registration is a startup configuration error, not a runtime
// condition.
var ErrDuplicatePipeline = errors.New("pipeline already registered")

// ErrPipelineNotFound is returned by Lookup for unknown pipeline names.
var ErrPipelineNotFound = errors.New("pipeline not registered")

// Registry is the process-wide table of built pipeline definitions.
// Populated once during application startup; lookups thereafter are pure
// reads. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]*Definition)}
}

// Register adds a built definition under its name. Registering the same
// name twice returns ErrDuplicatePipeline.
func (r *Registry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pipelines[def.Name()]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicatePipeline, def.Name())
	}
	r.pipelines[def.Name()] = def
	return nil
}

// Lookup returns the definition for name or ErrPipelineNotFound.
func (r *Registry) Lookup(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPipelineNotFound, name)
	}
	return def, nil
}

// Names returns all registered pipeline names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pipelines))
	for n := range r.pipelines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
