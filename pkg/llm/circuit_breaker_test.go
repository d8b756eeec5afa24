package llm

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestBreaker(threshold int, resetAfter time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{Threshold: threshold, ResetAfter: resetAfter})
}

func tripBreaker(cb *CircuitBreaker, failures int) {
	for i := 0; i < failures; i++ {
		cb.RecordFailure()
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := newTestBreaker(5, 30*time.Second)

	if cb.State() != CircuitClosed {
		t.Errorf("expected initial state closed, got %v", cb.State())
	}
	if allowed, err := cb.Allow(); !allowed || err != nil {
		t.Errorf("expected closed circuit to allow requests, got allowed=%v err=%v", allowed, err)
	}
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	cb := newTestBreaker(3, 30*time.Second)

	tripBreaker(cb, 2)
	if cb.State() != CircuitClosed {
		t.Fatalf("expected circuit to stay closed below threshold, got %v", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected circuit to open at threshold, got %v", cb.State())
	}
	if cb.ConsecutiveFailures() != 3 {
		t.Errorf("expected 3 consecutive failures, got %d", cb.ConsecutiveFailures())
	}

	allowed, err := cb.Allow()
	if allowed {
		t.Error("expected open circuit to reject requests")
	}
	if err == nil || !strings.Contains(err.Error(), "circuit breaker open") {
		t.Errorf("expected open-circuit error, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb := newTestBreaker(5, 30*time.Second)

	tripBreaker(cb, 3)
	cb.RecordSuccess()

	if cb.ConsecutiveFailures() != 0 {
		t.Errorf("expected failure count reset, got %d", cb.ConsecutiveFailures())
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state after success, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := newTestBreaker(3, 50*time.Millisecond)
	tripBreaker(cb, 3)

	// Still within the reset window.
	if allowed, _ := cb.Allow(); allowed {
		t.Fatal("expected rejection before reset window elapses")
	}

	time.Sleep(70 * time.Millisecond)

	// First request after the window becomes the probe.
	allowed, err := cb.Allow()
	if !allowed || err != nil {
		t.Fatalf("expected probe request to pass, got allowed=%v err=%v", allowed, err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open state, got %v", cb.State())
	}

	// Concurrent requests wait for the probe's verdict.
	allowed, err = cb.Allow()
	if allowed {
		t.Error("expected additional half-open requests to be rejected")
	}
	if err == nil || !strings.Contains(err.Error(), "half-open") {
		t.Errorf("expected half-open error, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenOutcomes(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		cb := newTestBreaker(3, 30*time.Millisecond)
		tripBreaker(cb, 3)
		time.Sleep(50 * time.Millisecond)
		_, _ = cb.Allow()

		cb.RecordSuccess()
		if cb.State() != CircuitClosed {
			t.Errorf("expected closed after probe success, got %v", cb.State())
		}
	})

	t.Run("failure reopens", func(t *testing.T) {
		cb := newTestBreaker(3, 30*time.Millisecond)
		tripBreaker(cb, 3)
		time.Sleep(50 * time.Millisecond)
		_, _ = cb.Allow()

		cb.RecordFailure()
		if cb.State() != CircuitOpen {
			t.Errorf("expected reopen after probe failure, got %v", cb.State())
		}
	})
}

func TestCircuitBreaker_ManualReset(t *testing.T) {
	cb := newTestBreaker(3, 30*time.Second)
	tripBreaker(cb, 3)

	cb.Reset()

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after reset, got %v", cb.State())
	}
	if allowed, err := cb.Allow(); !allowed || err != nil {
		t.Errorf("expected requests to flow after reset, got allowed=%v err=%v", allowed, err)
	}
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	config := DefaultCircuitBreakerConfig()
	if config.Threshold != 5 {
		t.Errorf("expected threshold 5, got %d", config.Threshold)
	}
	if config.ResetAfter != 30*time.Second {
		t.Errorf("expected reset window 30s, got %v", config.ResetAfter)
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state    CircuitState
		expected string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(999), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("CircuitState(%d).String() = %q, expected %q", tt.state, got, tt.expected)
		}
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := newTestBreaker(10, 100*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = cb.Allow()
				if (n+j)%2 == 0 {
					cb.RecordSuccess()
				} else {
					cb.RecordFailure()
				}
				_ = cb.State()
				_ = cb.ConsecutiveFailures()
			}
		}(i)
	}
	wg.Wait()
	// Passes when run with -race and no data race is reported.
}
