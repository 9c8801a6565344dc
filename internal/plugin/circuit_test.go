package plugin

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)
	for i := 0; i < 2; i++ {
		b.RecordFailure("linkify")
		if !b.Allow("linkify") {
			t.Fatalf("breaker opened before threshold at failure %d", i+1)
		}
	}
	b.RecordFailure("linkify")
	if b.Allow("linkify") {
		t.Fatalf("breaker should be open after %d consecutive failures", 3)
	}
}

func TestCircuitBreakerSuccessResets(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)
	b.RecordFailure("extract")
	b.RecordFailure("extract")
	b.RecordSuccess("extract")
	b.RecordFailure("extract")
	if !b.Allow("extract") {
		t.Fatalf("breaker should still be closed: success should have reset the counter")
	}
}

func TestCircuitBreakerClosesAfterCooldown(t *testing.T) {
	b := NewCircuitBreaker(1, 10*time.Millisecond)
	b.RecordFailure("flaky")
	if b.Allow("flaky") {
		t.Fatalf("breaker should be open immediately after threshold failure")
	}
	time.Sleep(20 * time.Millisecond)
	if !b.Allow("flaky") {
		t.Fatalf("breaker should allow again after cooldown elapses")
	}
}
