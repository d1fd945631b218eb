package interceptor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nomis52/orca/pipeline"
)

// ErrCircuitOpen marks a stage invocation that was short-circuited because
// the breaker for its identity is open. Open-circuit failures are retryable.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerState is the state of one breaker identity.
type BreakerState int

const (
	// StateClosed allows executions and counts consecutive failures.
	StateClosed BreakerState = iota
	// StateOpen fails fast without executing until the cool-down elapses.
	StateOpen
	// StateHalfOpen allows exactly one trial execution after the cool-down.
	StateHalfOpen
)

// String returns the metric label for the state.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker fails stage executions fast once an identity accumulates
// too many consecutive failures. State is scoped per stage name, or per
// provider identity when the stage declares one, and persists across runs:
// a run-local breaker would protect nothing.
//
// Transitions: CLOSED -(threshold failures)-> OPEN -(cool-down)-> HALF_OPEN
// -(trial success)-> CLOSED, or -(trial failure)-> OPEN with the cool-down
// restarted.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onState   func(key string, state BreakerState)

	mu       sync.Mutex
	breakers map[string]*breaker
}

type breaker struct {
	state    BreakerState
	failures int
	openedAt time.Time
	trial    bool // HALF_OPEN trial in flight
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock injects the time source. Tests use this to advance simulated
// time past the cool-down.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// WithStateListener registers a callback invoked on every state
// transition, keyed by breaker identity. The callback runs with the
// breaker lock held and must not block.
func WithStateListener(fn func(key string, state BreakerState)) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onState = fn
	}
}

// NewCircuitBreaker returns a breaker that opens after threshold consecutive
// failures and allows a trial after cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		breakers:  make(map[string]*breaker),
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Priority implements Interceptor.
func (cb *CircuitBreaker) Priority() int { return PriorityCircuitBreaker }

// Intercept implements Interceptor. CANCEL results are neutral: a cascaded
// or guard-issued cancellation says nothing about the stage's health.
func (cb *CircuitBreaker) Intercept(ctx context.Context, info StageInfo, in pipeline.Input, next Invoker) pipeline.StageResult {
	key := breakerKey(info)

	if !cb.allow(key) {
		return pipeline.Fail(fmt.Errorf("stage %s (breaker %s): %w", info.Stage, key, ErrCircuitOpen), true)
	}

	res := next(ctx, in)
	switch res.Status {
	case pipeline.StatusFail:
		cb.onFailure(key)
	case pipeline.StatusOK, pipeline.StatusSkip:
		cb.onSuccess(key)
	case pipeline.StatusCancel:
		cb.onNeutral(key)
	}
	return res
}

// State returns the current state for a breaker identity.
func (cb *CircuitBreaker) State(key string) BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	b, ok := cb.breakers[key]
	if !ok {
		return StateClosed
	}
	return b.state
}

func breakerKey(info StageInfo) string {
	if info.Provider != "" {
		return info.Provider
	}
	return info.Stage
}

func (cb *CircuitBreaker) allow(key string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b := cb.get(key)
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(b.openedAt) >= cb.cooldown {
			cb.setState(key, b, StateHalfOpen)
			b.trial = true
			return true
		}
		return false
	case StateHalfOpen:
		// Exactly one trial at a time.
		if b.trial {
			return false
		}
		b.trial = true
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) onSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b := cb.get(key)
	cb.setState(key, b, StateClosed)
	b.failures = 0
	b.trial = false
}

func (cb *CircuitBreaker) onFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b := cb.get(key)
	switch b.state {
	case StateHalfOpen:
		cb.setState(key, b, StateOpen)
		b.openedAt = cb.now()
		b.trial = false
	default:
		b.failures++
		if b.failures >= cb.threshold {
			cb.setState(key, b, StateOpen)
			b.openedAt = cb.now()
		}
	}
}

// onNeutral handles CANCEL results. A cancellation says nothing about
// the backend, but a HALF_OPEN trial that ended in one must release
// its slot or no trial could ever run again.
func (cb *CircuitBreaker) onNeutral(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b := cb.get(key)
	if b.state == StateHalfOpen {
		b.trial = false
	}
}

// setState applies a transition and notifies the listener. Callers hold
// the lock.
func (cb *CircuitBreaker) setState(key string, b *breaker, st BreakerState) {
	if b.state == st {
		return
	}
	b.state = st
	if cb.onState != nil {
		cb.onState(key, st)
	}
}

func (cb *CircuitBreaker) get(key string) *breaker {
	b, ok := cb.breakers[key]
	if !ok {
		b = &breaker{state: StateClosed}
		cb.breakers[key] = b
	}
	return b
}
