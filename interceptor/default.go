package interceptor

import (
	"log/slog"
	"time"

	"github.com/nomis52/orca/trace"
)

// DefaultConfig holds the knobs for the standard interceptor stack.
type DefaultConfig struct {
	// StageTimeout is the per-stage deadline.
	StageTimeout time.Duration
	// BreakerThreshold is the consecutive-failure count that opens a breaker.
	BreakerThreshold int
	// BreakerCooldown is how long an open breaker waits before a trial.
	BreakerCooldown time.Duration
	// RetryAttempts is the total attempt budget per stage (1 = no retry).
	RetryAttempts int
	// RetryBackoff is the pause between attempts.
	RetryBackoff time.Duration
	// BreakerListener, when set, observes breaker state transitions,
	// typically to export them as a gauge.
	BreakerListener func(key string, state BreakerState)
}

// DefaultChain builds the standard stack: Timeout, CircuitBreaker, Retry,
// Tracing, Metrics, Logging, outermost first. A nil tracer or observer
// drops the corresponding link.
func DefaultChain(cfg DefaultConfig, tracer trace.Tracer, observer StageObserver, logger *slog.Logger) *Chain {
	interceptors := []Interceptor{
		NewTimeout(cfg.StageTimeout),
		NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, WithStateListener(cfg.BreakerListener)),
		NewRetry(cfg.RetryAttempts, cfg.RetryBackoff),
		NewLogging(logger),
	}
	if tracer != nil {
		interceptors = append(interceptors, NewTracing(tracer))
	}
	if observer != nil {
		interceptors = append(interceptors, NewMetrics(observer))
	}
	return NewChain(interceptors...)
}
