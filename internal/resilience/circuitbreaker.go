package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/quillwriter/syncengine/internal/syncerr"
)

// State mirrors gobreaker's three states under the spec's naming (§4.E).
type State int

const (
	StateClosed   State = State(gobreaker.StateClosed)
	StateOpen     State = State(gobreaker.StateOpen)
	StateHalfOpen State = State(gobreaker.StateHalfOpen)
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the breaker with the spec's defaults
// (§4.E): 3 consecutive failures to trip, 2 consecutive successes in
// half-open to close, 1s open timeout.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	OnStateChange    func(from, to State)
}

// DefaultCircuitBreakerConfig returns the spec's defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      1000 * time.Millisecond,
	}
}

// CircuitBreaker wraps gobreaker.CircuitBreaker, preserving the
// Execute(ctx, fn) shape used throughout the engine, in the manner of
// infrastructure/resilience/resilience.go. It is a single-writer component
// (§4.E): all state transitions are serialized by gobreaker's own lock, and
// mu guards only the swap of the underlying breaker done by Reset.
type CircuitBreaker struct {
	mu  sync.RWMutex
	cfg CircuitBreakerConfig
	gb  *gobreaker.CircuitBreaker[any]
}

// New constructs a CircuitBreaker with cfg, filling in defaults for any
// zero-valued field.
func New(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg = withDefaults(cfg)
	cb := &CircuitBreaker{cfg: cfg}
	cb.gb = cb.newGobreaker()
	return cb
}

func withDefaults(cfg CircuitBreakerConfig) CircuitBreakerConfig {
	d := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = d.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = d.OpenTimeout
	}
	return cfg
}

func (cb *CircuitBreaker) newGobreaker() *gobreaker.CircuitBreaker[any] {
	settings := gobreaker.Settings{
		// MaxRequests also governs how many consecutive half-open
		// successes are required to close again — gobreaker closes once
		// Counts.ConsecutiveSuccesses reaches MaxRequests, which is
		// exactly the spec's S_threshold.
		MaxRequests: uint32(cb.cfg.SuccessThreshold),
		Interval:    0,
		Timeout:     cb.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cb.cfg.FailureThreshold)
		},
	}
	if cb.cfg.OnStateChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			cb.cfg.OnStateChange(State(from), State(to))
		}
	}
	return gobreaker.NewCircuitBreaker[any](settings)
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return State(cb.gb.State())
}

// Execute runs fn under breaker protection. In OPEN, fn is never invoked
// and Execute fails immediately with syncerr.ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(_ context.Context, fn func() error) error {
	cb.mu.RLock()
	gb := cb.gb
	cb.mu.RUnlock()

	_, err := gb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return syncerr.ErrCircuitOpen
	}
	return err
}

// Reset forces the breaker back to CLOSED and clears its counters.
// gobreaker exposes no public reset, so Reset swaps in a freshly
// constructed breaker under mu — any in-flight Execute call finishes
// against the breaker it started with.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.gb = cb.newGobreaker()
}
