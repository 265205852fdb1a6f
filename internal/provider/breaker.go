package provider

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current position.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

const (
	// DefaultFailureThreshold is the consecutive-failure count that opens
	// the breaker.
	DefaultFailureThreshold = 5
	// DefaultCooldown is how long the breaker stays open before admitting
	// a single probe call.
	DefaultCooldown = 60 * time.Second
)

// Breaker is the shared protective state machine for one provider endpoint.
// One Breaker instance is shared by every session that uses the endpoint;
// all transitions happen under the mutex. The only entry points are Allow
// and Record, so no caller can bypass a transition.
//
// Invariant: at most one probe call is in flight while half-open; every
// other concurrent caller fails fast with ErrUnavailable.
type Breaker struct {
	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool

	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time
}

// NewBreaker returns a closed breaker. Zero-valued threshold or cooldown
// fall back to the defaults.
func NewBreaker(failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// Allow decides whether a call may proceed. It returns ErrUnavailable when
// the breaker is open, and admits exactly one caller as the half-open probe
// once the cooldown has elapsed. A caller whose Allow returned nil must call
// Record with the outcome exactly once.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrUnavailable
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrUnavailable
		}
		b.probing = true
		return nil
	}
	return ErrUnavailable
}

// Record feeds one call outcome into the state machine. success resets the
// failure count; failure increments it and opens the breaker at the
// threshold. While half-open, the probe outcome alone decides the next
// state.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if success {
			b.state = StateClosed
			b.consecutiveFailures = 0
		} else {
			b.state = StateOpen
			b.openedAt = b.now()
		}
		return
	}

	if success {
		if b.state == StateClosed {
			b.consecutiveFailures = 0
		}
		// A stale success while open does not close the breaker; only
		// the half-open probe may do that.
		return
	}

	b.consecutiveFailures++
	if b.state == StateClosed && b.consecutiveFailures >= b.failureThreshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// State returns the current state and consecutive failure count.
func (b *Breaker) State() (BreakerState, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.consecutiveFailures
}
