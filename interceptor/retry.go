package interceptor

import (
	"context"
	"time"

	"github.com/nomis52/orca/pipeline"
)

// Retry re-invokes the inner chain for FAIL results marked retryable, up to
// a fixed attempt budget. Each attempt replaces the prior result atomically;
// only the final attempt's result is returned. Sitting inside the circuit
// breaker, only the final attempt's outcome reaches breaker state, and
// sitting outside tracing/metrics, each attempt is observed individually.
type Retry struct {
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) bool
}

// RetryOption configures a Retry interceptor.
type RetryOption func(*Retry)

// WithSleeper replaces the inter-attempt wait, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) bool) RetryOption {
	return func(r *Retry) {
		r.sleep = sleep
	}
}

// NewRetry returns a Retry interceptor allowing maxAttempts total attempts
// with a fixed pause between them. maxAttempts below 1 is treated as 1.
func NewRetry(maxAttempts int, backoff time.Duration, opts ...RetryOption) *Retry {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	r := &Retry{
		maxAttempts: maxAttempts,
		backoff:     backoff,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Priority implements Interceptor.
func (r *Retry) Priority() int { return PriorityRetry }

// Intercept implements Interceptor.
func (r *Retry) Intercept(ctx context.Context, info StageInfo, in pipeline.Input, next Invoker) pipeline.StageResult {
	var res pipeline.StageResult
	for attempt := 1; ; attempt++ {
		res = next(ctx, in)
		if res.Status != pipeline.StatusFail || !res.Retryable || attempt >= r.maxAttempts {
			return res
		}
		if !r.sleep(ctx, r.backoff) {
			return res
		}
	}
}

// sleepCtx waits for d or until ctx is done. Returns false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
