package responder

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/voxlink/pkg/metrics"
	"github.com/harunnryd/voxlink/pkg/resilience"
)

// CircuitBreaker wraps a Responder with rate-limit circuit breaking.
type CircuitBreaker struct {
	inner   Responder
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
	open    bool
	mu      sync.Mutex
}

func NewCircuitBreaker(inner Responder, breaker *resilience.CircuitBreaker) *CircuitBreaker {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &CircuitBreaker{inner: inner, breaker: breaker}
}

func (a *CircuitBreaker) Name() string { return a.inner.Name() }

// SetObserver allows metrics emission for breaker events.
func (a *CircuitBreaker) SetObserver(obs metrics.Observer) { a.obs = obs }

func (a *CircuitBreaker) Stream(ctx context.Context, prompt string) (<-chan string, error) {
	if !a.breaker.Allow() {
		a.setOpen(true)
		a.record(metrics.EventBreakerDenied)
		return nil, resilience.RateLimitError{Provider: a.Name(), Message: "degraded"}
	}
	a.setOpen(false)
	ch, err := a.inner.Stream(ctx, prompt)
	if err != nil {
		if resilience.IsRateLimit(err) {
			a.record(metrics.EventRateLimit)
		}
		a.breaker.OnError(err)
		return nil, err
	}
	a.breaker.OnSuccess()
	return ch, nil
}

func (a *CircuitBreaker) record(name string) {
	metrics.Record(a.obs, name, 1, map[string]string{
		"provider":  a.inner.Name(),
		"component": "responder",
	})
}

func (a *CircuitBreaker) setOpen(open bool) {
	a.mu.Lock()
	changed := a.open != open
	a.open = open
	a.mu.Unlock()
	if !changed {
		return
	}
	if open {
		a.record(metrics.EventBreakerOpen)
		return
	}
	a.record(metrics.EventBreakerClose)
}
