package interceptor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/orca/pipeline"
)

func noSleep(sleeps *[]time.Duration) RetryOption {
	return WithSleeper(func(ctx context.Context, d time.Duration) bool {
		*sleeps = append(*sleeps, d)
		return true
	})
}

func TestRetry_RetryableFailureIsRetried(t *testing.T) {
	var sleeps []time.Duration
	r := NewRetry(3, 50*time.Millisecond, noSleep(&sleeps))

	calls := 0
	res := r.Intercept(context.Background(), StageInfo{Stage: "s"}, pipeline.Input{}, func(ctx context.Context, in pipeline.Input) pipeline.StageResult {
		calls++
		if calls < 3 {
			return pipeline.Fail(errors.New("flaky"), true)
		}
		return pipeline.OK(nil)
	})

	require.Equal(t, pipeline.StatusOK, res.Status)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, sleeps)
}

func TestRetry_NonRetryableFailureReturnsImmediately(t *testing.T) {
	var sleeps []time.Duration
	r := NewRetry(3, time.Second, noSleep(&sleeps))

	calls := 0
	res := r.Intercept(context.Background(), StageInfo{Stage: "s"}, pipeline.Input{}, func(ctx context.Context, in pipeline.Input) pipeline.StageResult {
		calls++
		return pipeline.Fail(errors.New("broken contract"), false)
	})

	require.Equal(t, pipeline.StatusFail, res.Status)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeps)
}

func TestRetry_BudgetExhaustedReturnsLastResult(t *testing.T) {
	var sleeps []time.Duration
	r := NewRetry(3, time.Millisecond, noSleep(&sleeps))

	calls := 0
	res := r.Intercept(context.Background(), StageInfo{Stage: "s"}, pipeline.Input{}, func(ctx context.Context, in pipeline.Input) pipeline.StageResult {
		calls++
		return pipeline.Fail(errors.New("still down"), true)
	})

	require.Equal(t, pipeline.StatusFail, res.Status)
	assert.Equal(t, 3, calls)
	assert.True(t, res.Retryable)
	assert.Len(t, sleeps, 2)
}

func TestRetry_CancelAndSkipAreNotRetried(t *testing.T) {
	for _, tc := range []struct {
		name string
		res  pipeline.StageResult
	}{
		{"cancel", pipeline.Cancel("guard says no")},
		{"skip", pipeline.Skip("nothing to do")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRetry(5, 0)
			calls := 0
			res := r.Intercept(context.Background(), StageInfo{Stage: "s"}, pipeline.Input{}, func(ctx context.Context, in pipeline.Input) pipeline.StageResult {
				calls++
				return tc.res
			})
			assert.Equal(t, tc.res.Status, res.Status)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestRetry_CancelledContextStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRetry(5, time.Hour)
	calls := 0
	res := r.Intercept(ctx, StageInfo{Stage: "s"}, pipeline.Input{}, func(ctx context.Context, in pipeline.Input) pipeline.StageResult {
		calls++
		return pipeline.Fail(errors.New("flaky"), true)
	})

	require.Equal(t, pipeline.StatusFail, res.Status)
	assert.Equal(t, 1, calls, "no further attempts after cancellation")
}

func TestRetry_MinimumOneAttempt(t *testing.T) {
	r := NewRetry(0, 0)
	calls := 0
	res := r.Intercept(context.Background(), StageInfo{Stage: "s"}, pipeline.Input{}, func(ctx context.Context, in pipeline.Input) pipeline.StageResult {
		calls++
		return pipeline.OK(nil)
	})
	assert.Equal(t, pipeline.StatusOK, res.Status)
	assert.Equal(t, 1, calls)
}
