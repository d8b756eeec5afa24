package llm

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is the breaker's current position.
type CircuitState int

const (
	// CircuitClosed lets requests through normally.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests after repeated provider failures.
	CircuitOpen
	// CircuitHalfOpen lets a single probe through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds the breaker's trip threshold and reset window.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive failures before the circuit trips.
	Threshold int
	// ResetAfter is how long the circuit stays open before allowing a probe.
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  5,                // Trip after 5 consecutive failures
		ResetAfter: 30 * time.Second, // Try again after 30 seconds
	}
}

// CircuitBreaker guards chat-completion calls. It trips open after N
// consecutive provider failures; while open the pipeline answers with the
// canned apology instead of waiting on a dead endpoint.
type CircuitBreaker struct {
	mu         sync.RWMutex
	fails      int
	threshold  int
	resetAfter time.Duration
	lastFail   time.Time
	state      CircuitState
}

// NewCircuitBreaker creates a closed breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:  config.Threshold,
		resetAfter: config.ResetAfter,
		state:      CircuitClosed,
	}
}

// Allow reports whether a request may proceed. The first caller after the
// reset window elapses becomes the half-open probe; concurrent callers are
// rejected until the probe's verdict arrives via RecordSuccess/RecordFailure.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true, nil
	case CircuitOpen:
		since := time.Since(cb.lastFail)
		if since > cb.resetAfter {
			cb.state = CircuitHalfOpen
			return true, nil
		}
		return false, fmt.Errorf("circuit breaker open: LLM provider appears to be down (failed %d times, last failure %v ago)",
			cb.fails, since.Round(time.Second))
	case CircuitHalfOpen:
		return false, fmt.Errorf("circuit breaker half-open: testing if LLM provider has recovered")
	default:
		return false, fmt.Errorf("circuit breaker in unknown state: %v", cb.state)
	}
}

// RecordSuccess clears the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.fails = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a provider failure. A failed half-open probe reopens
// the circuit immediately; in the closed state the circuit trips once the
// threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.fails++
	cb.lastFail = time.Now()

	if cb.state == CircuitHalfOpen || cb.fails >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// State returns the breaker's current position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// ConsecutiveFailures returns the current failure streak.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.fails
}

// Reset forces the circuit closed. Intended for tests and manual recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.fails = 0
	cb.state = CircuitClosed
}
