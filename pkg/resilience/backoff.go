package resilience

import (
	"math"
	"time"
)

// Backoff describes a bounded exponential reconnection schedule:
// delay(attempt) = min(Base * 2^attempt, Max), at most MaxAttempts tries.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

func NewBackoff(base, max time.Duration, maxAttempts int) Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	if max < base {
		max = base
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return Backoff{Base: base, Max: max, MaxAttempts: maxAttempts}
}

// Delay returns the wait before the attempt with the given zero-based index.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt))
	if d >= float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt (zero-based) is past the allowed budget.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.MaxAttempts
}
