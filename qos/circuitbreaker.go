package qos

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by send_on_stream while the breaker is open.
var ErrCircuitOpen = errors.New("qos: circuit open")

// BreakerState is the circuit breaker's three-state lifecycle.
type BreakerState uint8

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

const (
	// DefaultFailureThreshold is N: consecutive failures before closed -> open.
	DefaultFailureThreshold = 5
	// DefaultResetTimeout is the open -> half-open wait.
	DefaultResetTimeout = 10 * time.Second
	// DefaultSuccessThreshold is M: consecutive half-open successes before closed.
	DefaultSuccessThreshold = 2
)

// CircuitBreaker guards the underlying socket per §4.8: closed -> open
// after FailureThreshold consecutive send failures, open -> half-open
// after ResetTimeout, half-open -> closed after SuccessThreshold
// consecutive successes, any half-open failure returns to open.
type CircuitBreaker struct {
	mu sync.Mutex

	FailureThreshold int
	ResetTimeout     time.Duration
	SuccessThreshold int

	state            BreakerState
	consecutiveFails int
	consecutiveOK    int
	openedAt         time.Time
}

// NewCircuitBreaker returns a closed breaker with §4.8's defaults.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		FailureThreshold: DefaultFailureThreshold,
		ResetTimeout:     DefaultResetTimeout,
		SuccessThreshold: DefaultSuccessThreshold,
		state:            BreakerClosed,
	}
}

// Allow reports whether a send may proceed, transitioning open ->
// half-open if ResetTimeout has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if time.Since(b.openedAt) >= b.ResetTimeout {
			b.state = BreakerHalfOpen
			b.consecutiveOK = 0
		} else {
			return false
		}
	}
	return true
}

// RecordSuccess reports a successful send, advancing half-open -> closed
// once SuccessThreshold consecutive successes are seen.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails = 0
	switch b.state {
	case BreakerHalfOpen:
		b.consecutiveOK++
		if b.consecutiveOK >= b.SuccessThreshold {
			b.state = BreakerClosed
		}
	case BreakerClosed:
		// no-op: already in the steady state
	}
}

// RecordFailure reports a failed send. In closed state, FailureThreshold
// consecutive failures trip the breaker open. Any failure in half-open
// returns immediately to open.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = time.Now()
	case BreakerClosed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.FailureThreshold {
			b.state = BreakerOpen
			b.openedAt = time.Now()
		}
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
