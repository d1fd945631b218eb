package interceptor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nomis52/orca/pipeline"
)

// ErrStageTimeout marks a stage that exceeded its per-stage deadline.
// Timeouts are always retryable.
var ErrStageTimeout = errors.New("stage timed out")

// Timeout enforces a per-stage deadline. A stage that does not observe
// cancellation within the deadline is forcibly failed rather than left to
// run unbounded; the abandoned goroutine sees a cancelled context.
type Timeout struct {
	limit time.Duration
}

// NewTimeout returns a Timeout interceptor with the given per-stage limit.
func NewTimeout(limit time.Duration) *Timeout {
	return &Timeout{limit: limit}
}

// Priority implements Interceptor. Timeout runs outermost.
func (t *Timeout) Priority() int { return PriorityTimeout }

// Intercept implements Interceptor.
func (t *Timeout) Intercept(ctx context.Context, info StageInfo, in pipeline.Input, next Invoker) pipeline.StageResult {
	ctx, cancel := context.WithTimeout(ctx, t.limit)
	defer cancel()

	done := make(chan pipeline.StageResult, 1)
	start := time.Now()
	go func() {
		done <- next(ctx, in)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		elapsed := time.Since(start)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res := pipeline.Fail(fmt.Errorf("stage %s after %s: %w", info.Stage, t.limit, ErrStageTimeout), true)
			res.Duration = elapsed
			return res
		}
		// Run-scoped cancellation, not a deadline.
		res := pipeline.Cancel("run cancelled")
		res.Duration = elapsed
		return res
	}
}
