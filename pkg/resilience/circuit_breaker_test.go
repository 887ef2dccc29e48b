package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerSettings("test"), nil)

	for i := 0; i < 5; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if cb.StateFor() != StateClosed {
		t.Errorf("expected closed, got %s", cb.StateFor())
	}
}

func TestCircuitBreakerTripsOnFailureRun(t *testing.T) {
	settings := DefaultCircuitBreakerSettings("test")
	settings.MinRequests = 2
	settings.FailureThreshold = 0.5
	cb := NewCircuitBreaker(settings, nil)

	failing := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return failing })
	}

	if cb.StateFor() != StateOpen {
		t.Fatalf("expected open after sustained failures, got %s", cb.StateFor())
	}

	if err := cb.Execute(func() error { return nil }); err == nil {
		t.Error("expected rejection while circuit is open")
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	settings := DefaultCircuitBreakerSettings("test")
	settings.MinRequests = 1
	settings.FailureThreshold = 0.5
	settings.MaxRequests = 2
	settings.Timeout = 10 * time.Millisecond
	cb := NewCircuitBreaker(settings, nil)

	_ = cb.Execute(func() error { return errors.New("boom") })
	if cb.StateFor() != StateOpen {
		t.Fatalf("expected open, got %s", cb.StateFor())
	}

	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("expected probe to be let through, got %v", err)
		}
	}

	if cb.StateFor() != StateClosed {
		t.Errorf("expected closed after successful probes, got %s", cb.StateFor())
	}
}
