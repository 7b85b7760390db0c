// Package circuitbreaker guards calls into the shared Redis registry so a
// degraded backend sheds load fast instead of stalling publisher and
// subscriber admission. While the circuit is open, registry reads are
// served from the in-memory shadow copy the caller keeps; writes reach only
// that shadow copy. A later grabber ping refreshes entries already in Redis
// and does not re-create one whose write was skipped.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the circuit's position.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls fail immediately with ErrOpen
	StateHalfOpen              // a limited number of probe calls test recovery
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

// ErrOpen is returned by Execute while the circuit is open and a cooldown
// has not yet elapsed. Callers treat it like any other backend failure and
// fall back to their shadow state.
var ErrOpen = errors.New("circuit breaker is open")

// Config tunes the breaker.
type Config struct {
	TripAfter  int           // consecutive backend failures that open the circuit
	Cooldown   time.Duration // open period before probes are allowed
	ProbeQuota int           // successful probes required to close again
}

// DefaultConfig returns the baseline breaker settings. The registry's preset
// (registry.BreakerConfig) starts from them with a lower TripAfter and a
// shorter Cooldown.
func DefaultConfig() Config {
	return Config{
		TripAfter:  5,
		Cooldown:   30 * time.Second,
		ProbeQuota: 1,
	}
}

// CircuitBreaker tracks consecutive failures of one backend.
type CircuitBreaker struct {
	cfg Config

	mu           sync.Mutex
	state        State
	failures     int       // consecutive failures while closed
	probesInWin  int       // probes admitted in the current half-open window
	probesPassed int       // successful probes in the current half-open window
	openedAt     time.Time

	onStateChange func(from, to State)
}

// New builds a breaker. Zero or negative config fields fall back to the
// defaults.
func New(cfg Config) *CircuitBreaker {
	defaults := DefaultConfig()
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = defaults.TripAfter
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaults.Cooldown
	}
	if cfg.ProbeQuota <= 0 {
		cfg.ProbeQuota = defaults.ProbeQuota
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// OnStateChange registers a callback invoked (outside the breaker lock)
// on every state transition.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// State returns the current state, accounting for an elapsed cooldown.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cfg.Cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Execute runs fn through the breaker. While open it returns ErrOpen
// without calling fn. Context cancellation from the caller's side is
// passed through but never counted against the backend: a player hanging
// up mid-call says nothing about Redis health.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.admit() {
		return ErrOpen
	}

	err := fn()
	cb.record(err)
	return err
}

// admit decides whether a call may proceed, moving an open circuit to
// half-open once the cooldown has elapsed.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()

	var notify func(from, to State)
	admitted := false

	switch cb.state {
	case StateClosed:
		admitted = true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.cfg.Cooldown {
			notify = cb.transitionLocked(StateHalfOpen)
			cb.probesInWin = 1
			admitted = true
		}
	case StateHalfOpen:
		if cb.probesInWin < cb.cfg.ProbeQuota {
			cb.probesInWin++
			admitted = true
		}
	}

	cb.mu.Unlock()
	if notify != nil {
		notify(StateOpen, StateHalfOpen)
	}
	return admitted
}

// record books the outcome of an admitted call.
func (cb *CircuitBreaker) record(err error) {
	backendFailure := err != nil &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)

	cb.mu.Lock()

	var notify func(from, to State)
	var from, to State

	switch cb.state {
	case StateClosed:
		if backendFailure {
			cb.failures++
			if cb.failures >= cb.cfg.TripAfter {
				from, to = cb.state, StateOpen
				notify = cb.transitionLocked(StateOpen)
			}
		} else if err == nil {
			cb.failures = 0
		}
	case StateHalfOpen:
		if backendFailure {
			from, to = cb.state, StateOpen
			notify = cb.transitionLocked(StateOpen)
		} else if err == nil {
			cb.probesPassed++
			if cb.probesPassed >= cb.cfg.ProbeQuota {
				from, to = cb.state, StateClosed
				notify = cb.transitionLocked(StateClosed)
			}
		}
	}

	cb.mu.Unlock()
	if notify != nil {
		notify(from, to)
	}
}

// transitionLocked switches state under cb.mu and returns the callback to
// run after unlocking, if any.
func (cb *CircuitBreaker) transitionLocked(to State) func(from, to State) {
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = time.Now()
		cb.failures = 0
	case StateHalfOpen:
		cb.probesInWin = 0
		cb.probesPassed = 0
	case StateClosed:
		cb.failures = 0
	}
	return cb.onStateChange
}
