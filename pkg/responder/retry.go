package responder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/harunnryd/voxlink/pkg/resilience"
)

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
	IsRetryable func(error) bool
	Sleep       func(time.Duration)
}

// Retrying retries opening a stream. Once tokens flow the stream is never
// restarted, so a caller never sees a reply twice.
type Retrying struct {
	inner Responder
	cfg   RetryConfig
}

func NewRetrying(inner Responder, cfg RetryConfig) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Retrying{inner: inner, cfg: cfg}
}

func (r *Retrying) Name() string { return r.inner.Name() }

func (r *Retrying) Stream(ctx context.Context, prompt string) (<-chan string, error) {
	var lastErr error
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < r.cfg.MaxAttempts; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ch, err := r.inner.Stream(ctx, prompt)
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if !r.cfg.IsRetryable(err) || i == r.cfg.MaxAttempts-1 {
			break
		}
		delay := backoffDelay(r.cfg.BaseDelay, r.cfg.MaxDelay, r.cfg.Jitter, i, rnd)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			r.cfg.Sleep(delay)
		}
	}
	return nil, fmt.Errorf("responder retry failed: %w", lastErr)
}

// DefaultIsRetryable retries everything except cancellation and rate
// limits, which the circuit breaker handles.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !resilience.IsRateLimit(err)
}

func backoffDelay(base, max time.Duration, jitter float64, attempt int, r *rand.Rand) time.Duration {
	pow := math.Pow(2, float64(attempt))
	d := time.Duration(float64(base) * pow)
	if d > max {
		d = max
	}
	if jitter > 0 {
		j := time.Duration(float64(d) * jitter * r.Float64())
		return d + j
	}
	return d
}
