// Package chunk slices buffered recording audio into fixed-interval chunks.
package chunk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/voxlink/pkg/audio"
	"github.com/harunnryd/voxlink/pkg/logging"
)

const DefaultInterval = 500 * time.Millisecond

// Sink receives each chunk. It must not block for acknowledgement.
type Sink func(chunk []byte)

type Config struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Scheduler drains a Buffer into a Sink every Interval while running.
type Scheduler struct {
	interval time.Duration
	buf      *audio.Buffer
	sink     Sink
	logger   *slog.Logger

	newTicker TickerFunc

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	emitted int
}

// TickerFunc returns a tick channel and its stop function.
type TickerFunc func(time.Duration) (<-chan time.Time, func())

type Option func(*Scheduler)

// WithTicker replaces the wall-clock ticker.
func WithTicker(fn TickerFunc) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.newTicker = fn
		}
	}
}

func NewScheduler(cfg Config, buf *audio.Buffer, sink Sink, logger *slog.Logger, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	s := &Scheduler{
		interval:  cfg.Interval,
		buf:       buf,
		sink:      sink,
		logger:    logging.NewComponentLogger(logger, "chunk"),
		newTicker: realTicker,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Start begins periodic emission. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	ticks, stopTicker := s.newTicker(s.interval)
	go s.loop(ticks, stopTicker, s.stop, s.done)
}

func (s *Scheduler) loop(ticks <-chan time.Time, stopTicker func(), stop, done chan struct{}) {
	defer close(done)
	defer stopTicker()
	for {
		select {
		case <-stop:
			return
		case <-ticks:
			s.flush("tick")
		}
	}
}

// Stop halts the ticker and synchronously emits whatever is still buffered
// so no trailing audio is lost. Safe to call when not running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	s.flush("final")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Emitted counts chunks handed to the sink.
func (s *Scheduler) Emitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted
}

func (s *Scheduler) flush(reason string) {
	if s.buf == nil || s.sink == nil {
		return
	}
	data := s.buf.Drain()
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	s.emitted++
	s.mu.Unlock()
	s.logger.Debug("chunk_emitted", slog.String("reason", reason), slog.Int("bytes", len(data)))
	s.sink(data)
}
