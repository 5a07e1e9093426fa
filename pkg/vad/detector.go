// Package vad decides when an utterance starts and ends from periodic
// loudness readings.
package vad

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/voxlink/pkg/audio"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/metrics"
)

// State of the detector between ticks.
type State int

const (
	StateIdle State = iota
	StateAboveThreshold
	StateBelowThreshold
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAboveThreshold:
		return "ABOVE_THRESHOLD"
	case StateBelowThreshold:
		return "BELOW_THRESHOLD"
	default:
		return "UNKNOWN"
	}
}

// Decision is the outcome of a single tick.
type Decision int

const (
	None Decision = iota
	StartRecording
	StopRecording
)

func (d Decision) String() string {
	switch d {
	case StartRecording:
		return "start_recording"
	case StopRecording:
		return "stop_recording"
	default:
		return "none"
	}
}

// Config is fixed for the lifetime of a detector.
type Config struct {
	VolumeThreshold float64       `mapstructure:"volume_threshold"`
	SilenceTimeout  time.Duration `mapstructure:"silence_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

func DefaultConfig() Config {
	return Config{
		VolumeThreshold: 1.5,
		SilenceTimeout:  1500 * time.Millisecond,
		PollInterval:    100 * time.Millisecond,
	}
}

// withDefaults fills unset durations. A zero threshold is valid (any
// sound starts recording); only a negative one falls back to the default.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.VolumeThreshold < 0 {
		c.VolumeThreshold = d.VolumeThreshold
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = d.SilenceTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Sampler produces one loudness reading per call. *audio.Analyzer satisfies it.
type Sampler interface {
	Sample(now time.Time) (audio.LoudnessSample, error)
}

// Handler receives every non-None decision in tick order.
type Handler func(d Decision, sample audio.LoudnessSample)

// Option customises a Detector.
type Option func(*Detector)

func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = logging.NewComponentLogger(l, "vad") }
}

func WithObserver(obs metrics.Observer) Option {
	return func(d *Detector) { d.obs = obs }
}

// WithTicks replaces the wall-clock ticker; tests feed ticks by hand.
func WithTicks(ticks <-chan time.Time) Option {
	return func(d *Detector) { d.ticks = ticks }
}

// Detector is the start/stop state machine. Observe and Fault are expected
// to be called from one goroutine; the mutex only guards readers of State.
type Detector struct {
	cfg    Config
	logger *slog.Logger
	obs    metrics.Observer
	ticks  <-chan time.Time

	mu          sync.RWMutex
	state       State
	recording   bool
	lastVoiceAt time.Time
	faults      int
}

func NewDetector(cfg Config, opts ...Option) *Detector {
	d := &Detector{
		cfg:    cfg.withDefaults(),
		logger: logging.NewComponentLogger(nil, "vad"),
		state:  StateIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

func (d *Detector) Config() Config {
	return d.cfg
}

func (d *Detector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Detector) Recording() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.recording
}

func (d *Detector) LastVoiceAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastVoiceAt
}

// Faults counts analyzer faults absorbed so far.
func (d *Detector) Faults() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.faults
}

// Observe applies one loudness reading. A reading above the threshold starts
// recording and refreshes lastVoiceAt. A reading at or below it stops
// recording only once silence has lasted strictly longer than SilenceTimeout.
func (d *Detector) Observe(sample audio.LoudnessSample) Decision {
	d.mu.Lock()
	decision := None
	if sample.Value > d.cfg.VolumeThreshold {
		if !d.recording {
			d.recording = true
			decision = StartRecording
		}
		d.lastVoiceAt = sample.At
		d.state = StateAboveThreshold
	} else if d.recording {
		d.state = StateBelowThreshold
		if sample.At.Sub(d.lastVoiceAt) > d.cfg.SilenceTimeout {
			d.recording = false
			d.state = StateIdle
			decision = StopRecording
		}
	} else {
		d.state = StateIdle
	}
	d.mu.Unlock()

	if decision != None {
		d.logger.Debug("vad_decision",
			slog.String("decision", decision.String()),
			slog.Float64("loudness", sample.Value),
		)
		metrics.Record(d.obs, metrics.EventVADDecision, sample.Value, map[string]string{"decision": decision.String()})
	}
	return decision
}

// Fault records an analyzer failure. The state is held as-is for this tick.
func (d *Detector) Fault(err error, now time.Time) Decision {
	d.mu.Lock()
	d.faults++
	state := d.state
	d.mu.Unlock()
	d.logger.Warn("vad_sample_failed",
		slog.String("state", state.String()),
		slog.Time("at", now),
		slog.Any("error", err),
	)
	return None
}

// Reset returns the detector to Idle, e.g. after a session stop.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.state = StateIdle
	d.recording = false
	d.lastVoiceAt = time.Time{}
	d.mu.Unlock()
}

// Run samples on every tick until ctx is done and hands non-None decisions
// to handler. Each tick does one bounded sample and never blocks on I/O.
func (d *Detector) Run(ctx context.Context, sampler Sampler, handler Handler) {
	ticks := d.ticks
	if ticks == nil {
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case now, ok := <-ticks:
			if !ok {
				return
			}
			sample, err := sampler.Sample(now)
			var decision Decision
			if err != nil {
				decision = d.Fault(err, now)
			} else {
				decision = d.Observe(sample)
			}
			if decision != None && handler != nil {
				handler(decision, sample)
			}
		}
	}
}
