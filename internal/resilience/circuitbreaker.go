// Package resilience provides circuit breaker and provider failover primitives
// for the recognition and enhancement backends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that stops
// a dead backend from adding its full timeout to every segment.
// [FallbackGroup] composes several instances of one provider type with
// per-entry breakers so a failing primary is bypassed in favour of healthy
// fallbacks. [RecognizerFallback] and [LLMFallback] are the typed wrappers the
// application wires in.
//
// A call whose context was cancelled by the caller is never counted against a
// backend: shutting down mid-request must not trip a breaker.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state. All calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	// Calls are rejected with [ErrCircuitOpen] until the reset timeout elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the reset timeout. A
	// limited number of calls are let through; enough successes close the
	// breaker and any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed in the half-open
	// state to close the breaker again. Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker's lock released and must not block.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Tests use it to step through timeouts.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
		state:         StateClosed,
	}
}

// Name returns the label the breaker was created with.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn. In the half-open state at most
// HalfOpenMax probes are in flight at once.
//
// If ctx is already done, Execute returns ctx.Err() without calling fn. An
// error from fn that coincides with ctx being cancelled is returned but not
// recorded as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	switch {
	case err == nil:
		cb.record(probe, true)
	case errors.Is(ctx.Err(), context.Canceled):
		cb.release(probe)
	default:
		cb.record(probe, false)
	}
	return err
}

// admit decides whether a call may proceed and reports whether it is a
// half-open probe.
func (cb *CircuitBreaker) admit() (bool, error) {
	cb.mu.Lock()
	var transition func()
	defer func() {
		cb.mu.Unlock()
		if transition != nil {
			transition()
		}
	}()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		transition = cb.setStateLocked(StateHalfOpen)
		cb.probes = 0
		cb.probeSuccesses = 0
	case StateClosed:
		return false, nil
	}

	if cb.probes >= cb.halfOpenMax {
		return false, ErrCircuitOpen
	}
	cb.probes++
	return true, nil
}

// record books the outcome of an admitted call.
func (cb *CircuitBreaker) record(probe, ok bool) {
	cb.mu.Lock()
	var transition func()
	defer func() {
		cb.mu.Unlock()
		if transition != nil {
			transition()
		}
	}()

	if probe && cb.state == StateHalfOpen {
		cb.probes--
		if !ok {
			cb.openedAt = cb.now()
			cb.consecutiveFail = cb.maxFailures
			transition = cb.setStateLocked(StateOpen)
			return
		}
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.halfOpenMax {
			cb.consecutiveFail = 0
			transition = cb.setStateLocked(StateClosed)
		}
		return
	}

	if ok {
		cb.consecutiveFail = 0
		return
	}
	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		cb.openedAt = cb.now()
		transition = cb.setStateLocked(StateOpen)
	}
}

// release returns a probe slot without booking an outcome.
func (cb *CircuitBreaker) release(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

// setStateLocked switches state and returns the notification to run once the
// lock is released. Must be called with cb.mu held.
func (cb *CircuitBreaker) setStateLocked(to State) func() {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	name, hook := cb.name, cb.onStateChange
	return func() {
		switch to {
		case StateOpen:
			slog.Warn("circuit breaker opened", "name", name, "from", from.String())
		case StateHalfOpen:
			slog.Info("circuit breaker probing", "name", name)
		case StateClosed:
			slog.Info("circuit breaker closed", "name", name)
		}
		if hook != nil {
			hook(name, from, to)
		}
	}
}

// State returns the current [State] of the breaker. If the breaker is open and
// the reset timeout has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [Execute] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset manually forces the breaker back to [StateClosed], clearing all
// counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.consecutiveFail = 0
	cb.probes = 0
	cb.probeSuccesses = 0
	transition := cb.setStateLocked(StateClosed)
	cb.mu.Unlock()
	if transition != nil {
		transition()
	}
}
