package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/voxlink/pkg/logging"
)

var (
	ErrInvalidState = errors.New("runner: invalid state transition")
	ErrDrainTimeout = errors.New("runner: drain timeout")
)

type Option func(*LifecycleRunner)

func WithLogger(l *slog.Logger) Option {
	return func(r *LifecycleRunner) { r.logger = logging.NewComponentLogger(l, "runner") }
}

// WithBanner prints title to w when Run starts.
func WithBanner(w io.Writer, title string) Option {
	return func(r *LifecycleRunner) {
		r.bannerOut = w
		r.bannerTitle = title
	}
}

type LifecycleRunner struct {
	state    atomic.Int32
	cancel   context.CancelFunc
	mu       sync.Mutex
	onceStop sync.Once
	hooks    Hooks
	drainers []Drainer
	stopErr  error
	timeout  time.Duration
	logger   *slog.Logger

	bannerOut   io.Writer
	bannerTitle string
}

// NewLifecycleRunner drains each drainer in order on shutdown, giving all
// of them timeout in total.
func NewLifecycleRunner(hooks Hooks, timeout time.Duration, drainers []Drainer, opts ...Option) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &LifecycleRunner{
		hooks:    hooks,
		drainers: drainers,
		timeout:  timeout,
		logger:   logging.NewComponentLogger(nil, "runner"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run blocks until ctx is done or Stop is called, then drains.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return ErrInvalidState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if r.bannerTitle != "" {
		PrintBanner(r.bannerOut, r.bannerTitle)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	if r.hooks.OnStart != nil {
		if err := r.hooks.OnStart(runCtx); err != nil {
			r.logger.Error("runner_start_failed", slog.String("error", err.Error()))
			_ = r.stop()
			return err
		}
	}
	r.setState(StateRunning)
	<-runCtx.Done()
	return r.stop()
}

// Stop cancels a running Run and drains. Calling it before Run drains
// immediately.
func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		start := time.Now()
		done := make(chan error, 1)
		go func() {
			var errs []error
			for _, d := range r.drainers {
				if d == nil {
					continue
				}
				if err := d.Drain(); err != nil {
					errs = append(errs, err)
				}
			}
			done <- errors.Join(errs...)
		}()
		select {
		case err := <-done:
			r.stopErr = err
		case <-time.After(r.timeout):
			r.stopErr = ErrDrainTimeout
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
		attrs := []any{slog.Duration("elapsed", time.Since(start))}
		if r.stopErr != nil {
			attrs = append(attrs, slog.String("error", r.stopErr.Error()))
		}
		r.logger.Info("runner_stopped", attrs...)
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	r.state.Store(int32(s))
	r.logger.Debug("runner_state", slog.String("state", s.String()))
}
