// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/jllopis/kairos-analyst/pkg/errors"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed lets every call through.
	StateClosed CircuitBreakerState = "closed"

	// StateOpen rejects calls until the cooldown elapses.
	StateOpen CircuitBreakerState = "open"

	// StateHalfOpen lets one probe through to test recovery.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the protected resource in errors and logs.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before a probe.
	Cooldown time.Duration

	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// CircuitBreaker stops calls to a resource that keeps failing. Callers check
// Allow before the call and Record its outcome.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitBreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = "circuit_breaker"
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// Allow reports whether a call may proceed. An open circuit whose cooldown
// has elapsed moves to half-open and admits a single probe. Rejections are
// recoverable TRANSIENT errors.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.config.Now().Sub(cb.openedAt) >= cb.config.Cooldown {
		cb.state = StateHalfOpen
		cb.probing = false
	}
	switch cb.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if !cb.probing {
			cb.probing = true
			return nil
		}
	}
	return errors.New(errors.CodeTransient,
		fmt.Sprintf("circuit open for %s after %d consecutive failures", cb.config.Name, cb.config.FailureThreshold), nil).
		WithContext("breaker", cb.config.Name).
		WithRecoverable(true)
}

// Record feeds the outcome of an admitted call back into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.state = StateClosed
		cb.failures = 0
		cb.probing = false
		return
	}
	if cb.state == StateHalfOpen {
		cb.trip()
		return
	}
	cb.failures++
	if cb.failures >= cb.config.FailureThreshold {
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.config.Now()
	cb.failures = 0
	cb.probing = false
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probing = false
}
