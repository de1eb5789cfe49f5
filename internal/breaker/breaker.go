// Package breaker provides a generic circuit breaker for isolating
// failing dependencies. One breaker instance protects one dependency or
// action class; callers check CanExecute before each attempt and record
// the outcome afterwards.
package breaker

import (
	"errors"
	"log"
	"sync"
	"time"
)

// State represents the circuit's current disposition.
type State string

const (
	// StateClosed allows execution; failures are being counted.
	StateClosed State = "closed"
	// StateOpen refuses execution until the reset timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen allows a single probe through after the cool-down.
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned by Execute when the circuit refuses the call.
// Callers should treat it as "try later", not as a failure of the
// underlying operation.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config controls breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit from closed.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before allowing a
	// half-open probe.
	ResetTimeout time.Duration
}

// DefaultConfig returns the standard breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker is a three-state failure isolation primitive.
type CircuitBreaker struct {
	name string
	cfg  Config

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time

	// now is injectable for tests.
	now func() time.Time
}

// New creates a breaker with the given name and config. Zero or negative
// config fields fall back to defaults.
func New(name string, cfg Config) *CircuitBreaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// NewWithClock creates a breaker with an injectable clock for tests.
func NewWithClock(name string, cfg Config, now func() time.Time) *CircuitBreaker {
	cb := New(name, cfg)
	cb.now = now
	return cb
}

// State returns the current state, lazily transitioning open to half-open
// once the reset timeout has elapsed since the last failure.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

// stateLocked applies the lazy open -> half-open transition. Callers must
// hold the mutex.
func (cb *CircuitBreaker) stateLocked() State {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.cfg.ResetTimeout {
		cb.state = StateHalfOpen
		log.Printf("[breaker] %s: open -> half-open after cool-down", cb.name)
	}
	return cb.state
}

// CanExecute reports whether a call may proceed. Closed and half-open both
// permit execution; open does not.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked() != StateOpen
}

// RecordSuccess records a successful call. In half-open it closes the
// circuit; it always resets the failure count to zero.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.stateLocked() == StateHalfOpen {
		cb.state = StateClosed
		log.Printf("[breaker] %s: half-open -> closed after successful probe", cb.name)
	}
	cb.failureCount = 0
}

// RecordFailure records a failed call. A half-open probe failure re-opens
// the circuit immediately; in closed, the circuit opens once the failure
// count reaches the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()

	switch cb.stateLocked() {
	case StateHalfOpen:
		cb.state = StateOpen
		log.Printf("[breaker] %s: half-open probe failed, re-opening", cb.name)
	case StateClosed:
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
			log.Printf("[breaker] %s: opened after %d consecutive failures", cb.name, cb.failureCount)
		}
	}
}

// Execute runs fn if the circuit permits it and records the outcome.
// Returns ErrCircuitOpen without calling fn when the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.CanExecute() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// FailureCount returns the current consecutive failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// Reset forces the circuit closed with zero failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
}
