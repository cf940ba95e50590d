package sqlite

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the circuit breaker position.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

var breakerStateNames = [...]string{"closed", "open", "half_open"}

func (s BreakerState) String() string {
	if s < StateClosed || s > StateHalfOpen {
		return "unknown"
	}
	return breakerStateNames[s]
}

// ErrCircuitOpen is returned while the breaker refuses to touch the store.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker shields the store behind closed -> open -> half_open
// transitions: enough consecutive failures open it, one probe after the
// reset timeout decides whether it closes again. The caller decides which
// errors count as failures; coordination outcomes never should (see
// ResilientStore).
type CircuitBreaker struct {
	threshold int
	reset     time.Duration
	clock     func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

func NewCircuitBreaker(threshold int, reset time.Duration) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold, reset: reset, clock: time.Now}
}

// Execute runs fn unless the breaker is open inside its reset window. When
// the window has elapsed exactly one caller probes; everyone else keeps
// getting ErrCircuitOpen until the probe settles the state.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.settle(err)
	return err
}

// admit decides whether a call may proceed, moving open -> half_open when
// the reset window has passed.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.clock().Sub(cb.openedAt) < cb.reset {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		return nil
	default:
		// A probe is already in flight.
		return ErrCircuitOpen
	}
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		cb.state = StateClosed
		cb.failures = 0
		return
	}
	if cb.state == StateHalfOpen {
		cb.trip()
		return
	}
	cb.failures++
	if cb.failures >= cb.threshold {
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.clock()
}

// State returns the current breaker position.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count, exposed for health
// reporting.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
