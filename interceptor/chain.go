// Package interceptor wraps stage execution with ordered cross-cutting
// behavior: timeout enforcement, circuit breaking, retries, tracing, metrics
// and logging. Stages are unaware of the chain.
//
// Interceptors are ordered by ascending numeric priority; lower priorities
// run outermost. The default stack, outermost first, is Timeout, Circuit
// Breaker, Retry, Tracing, Metrics, Logging. Interceptor order is data: the
// chain is an explicit list, never implicit registration.
package interceptor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nomis52/orca/pipeline"
)

// Default priorities for the built-in interceptors.
const (
	PriorityTimeout        = 10
	PriorityCircuitBreaker = 20
	PriorityRetry          = 30
	PriorityTracing        = 40
	PriorityMetrics        = 50
	PriorityLogging        = 60
)

// StageInfo identifies the stage execution being intercepted.
type StageInfo struct {
	Pipeline string
	RunID    string
	Stage    string
	Kind     pipeline.StageKind

	// Provider names the external provider identity behind the stage, when
	// the stage declares one. The circuit breaker scopes its state to this
	// when present, so stages sharing a provider share a breaker.
	Provider string
}

// Invoker advances to the next link of the chain.
type Invoker func(ctx context.Context, in pipeline.Input) pipeline.StageResult

// Interceptor is one link of the chain. An interceptor may pass through,
// short-circuit with its own result without calling next, or wrap the
// result next returns. Interceptors must be idempotent under retries.
type Interceptor interface {
	Priority() int
	Intercept(ctx context.Context, info StageInfo, in pipeline.Input, next Invoker) pipeline.StageResult
}

// Chain is an immutable, priority-ordered interceptor stack shared by all
// runs of a scheduler.
type Chain struct {
	interceptors []Interceptor
}

// NewChain builds a chain from the given interceptors, sorted by ascending
// priority. The sort is stable so equal priorities keep argument order.
func NewChain(interceptors ...Interceptor) *Chain {
	sorted := make([]Interceptor, len(interceptors))
	copy(sorted, interceptors)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Chain{interceptors: sorted}
}

// Execute runs the stage through the chain. Panics in the stage body are
// converted to FAIL results; raw errors never escape. The innermost link
// measures execution duration for results that do not set their own.
func (c *Chain) Execute(ctx context.Context, info StageInfo, in pipeline.Input, stage pipeline.Stage) pipeline.StageResult {
	invoke := Invoker(func(ctx context.Context, in pipeline.Input) (res pipeline.StageResult) {
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				res = pipeline.Fail(fmt.Errorf("stage %s panicked: %v", info.Stage, p), false)
			}
			if res.Duration == 0 {
				res.Duration = time.Since(start)
			}
		}()
		return stage.Execute(ctx, in)
	})

	for i := len(c.interceptors) - 1; i >= 0; i-- {
		ic := c.interceptors[i]
		next := invoke
		invoke = func(ctx context.Context, in pipeline.Input) pipeline.StageResult {
			return ic.Intercept(ctx, info, in, next)
		}
	}

	return invoke(ctx, in)
}
