package ratelimit

import (
	"sync"
	"time"
)

// BreakerState is one of the three classic circuit breaker states.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the failure/recovery thresholds.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before tripping OPEN
	SuccessThreshold int           // consecutive HALF_OPEN successes before closing
	OpenDuration     time.Duration // time spent OPEN before probing HALF_OPEN
}

// DefaultBreakerConfig: 5 consecutive failures trips, 3 consecutive
// successes closes, 60s open duration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, SuccessThreshold: 3, OpenDuration: 60 * time.Second}
}

// CircuitBreaker wraps calls through a category's bucket, failing fast
// while OPEN and probing recovery in HALF_OPEN.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	consecutiveSuccess  int
	nextAttempt         time.Time
}

// NewCircuitBreaker constructs a breaker starting CLOSED.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: BreakerClosed}
}

// Allow reports whether a call may proceed, transitioning OPEN->HALF_OPEN
// when the open duration has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Now().Before(cb.nextAttempt) {
			return false
		}
		cb.state = BreakerHalfOpen
		cb.consecutiveSuccess = 0
		return true
	case BreakerHalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess registers a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerHalfOpen:
		cb.consecutiveSuccess++
		if cb.consecutiveSuccess >= cb.cfg.SuccessThreshold {
			cb.state = BreakerClosed
			cb.consecutiveFailures = 0
			cb.consecutiveSuccess = 0
		}
	case BreakerClosed:
		cb.consecutiveFailures = 0
	}
}

// RecordFailure registers a failed call outcome.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.trip()
		}
	case BreakerHalfOpen:
		cb.trip()
	}
}

// trip transitions to OPEN and extends nextAttempt. Caller must hold cb.mu.
func (cb *CircuitBreaker) trip() {
	cb.state = BreakerOpen
	cb.nextAttempt = time.Now().Add(cb.cfg.OpenDuration)
	cb.consecutiveFailures = 0
	cb.consecutiveSuccess = 0
}

// Reset forces the breaker back to CLOSED, used when the governor clears a
// rate-limit recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.consecutiveFailures = 0
	cb.consecutiveSuccess = 0
}

// State reports the current state, for metrics.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
