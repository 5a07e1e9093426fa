package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff(time.Second, 10*time.Second, 5)
	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		10000 * time.Millisecond,
		10000 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.Delay(i); got != w {
			t.Fatalf("delay(%d) = %v, want %v", i, got, w)
		}
	}
	for i := 0; i < 5; i++ {
		if b.Exhausted(i) {
			t.Fatalf("attempt %d should be allowed", i)
		}
	}
	if !b.Exhausted(5) {
		t.Fatalf("attempt 5 should be exhausted")
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(0, 0, 0)
	if b.Base != time.Second || b.Max != 10*time.Second || b.MaxAttempts != 5 {
		t.Fatalf("unexpected defaults: %+v", b)
	}
	if b.Delay(-3) != time.Second {
		t.Fatalf("negative attempt should clamp to base")
	}
}

func TestCircuitBreakerOpensOnRateLimit(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.SetClock(func() time.Time { return now })

	cb.OnError(errors.New("not a rate limit"))
	cb.OnError(RateLimitError{Provider: "openai"})
	if !cb.Allow() {
		t.Fatalf("breaker should stay closed below threshold")
	}
	cb.OnError(RateLimitError{Provider: "openai"})
	if cb.Allow() {
		t.Fatalf("breaker should open at threshold")
	}
	now = now.Add(time.Minute)
	if !cb.Allow() {
		t.Fatalf("breaker should close after cooldown")
	}
}

func TestIsRateLimit(t *testing.T) {
	if !IsRateLimit(RateLimitError{}) {
		t.Fatalf("expected rate limit")
	}
	if IsRateLimit(errors.New("x")) {
		t.Fatalf("plain error is not a rate limit")
	}
	if (RateLimitError{}).Error() != "rate limit" {
		t.Fatalf("default message")
	}
}
