// Package recording runs the listen, record, stream and respond loop: it
// owns the microphone for a session, feeds loudness to the VAD, and ships
// chunked audio over the channel while an utterance is in progress.
package recording

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/voxlink/pkg/audio"
	"github.com/harunnryd/voxlink/pkg/channel"
	"github.com/harunnryd/voxlink/pkg/chunk"
	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/metrics"
	"github.com/harunnryd/voxlink/pkg/protocol"
	"github.com/harunnryd/voxlink/pkg/vad"
)

// Status of the recording session.
type Status int

const (
	StatusIdle Status = iota
	StatusListening
	StatusRecording
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusListening:
		return "listening"
	case StatusRecording:
		return "recording"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Sender is the part of *channel.Channel the controller needs.
type Sender interface {
	Send(chunk []byte) error
	SendControl(event string, payload any) error
	On(event string, h channel.Handler)
}

type Config struct {
	VAD   vad.Config   `mapstructure:"vad"`
	Chunk chunk.Config `mapstructure:"chunk"`
}

// Callbacks are optional and run on the controller's goroutines.
type Callbacks struct {
	OnStatus   func(Status)
	OnResponse func(protocol.ResponseEvent)
	OnError    func(error)
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.base = l }
}

func WithObserver(obs metrics.Observer) Option {
	return func(c *Controller) { c.obs = obs }
}

func WithCallbacks(cb Callbacks) Option {
	return func(c *Controller) { c.cb = cb }
}

// WithClock replaces time.Now for response hold bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithVADTicks feeds the detector from ticks instead of a wall-clock ticker.
func WithVADTicks(ticks <-chan time.Time) Option {
	return func(c *Controller) { c.vadTicks = ticks }
}

// WithChunkTicker replaces the chunk scheduler's ticker.
func WithChunkTicker(fn chunk.TickerFunc) Option {
	return func(c *Controller) { c.chunkTicker = fn }
}

// Controller drives one recording session at a time. A session acquires
// the audio source on Start and releases it on every exit path.
type Controller struct {
	cfg    Config
	opener audio.Opener
	ch     Sender
	base   *slog.Logger
	logger *slog.Logger
	obs    metrics.Observer
	cb     Callbacks
	now    func() time.Time

	vadTicks    <-chan time.Time
	chunkTicker chunk.TickerFunc

	mu        sync.Mutex
	status    Status
	sess      *session
	holdUntil time.Time
	holdTimer *time.Timer
	err       error
}

type session struct {
	id     string
	src    audio.Source
	buf    *audio.Buffer
	det    *vad.Detector
	sched  *chunk.Scheduler
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, opener audio.Opener, ch Sender, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg,
		opener: opener,
		ch:     ch,
		now:    time.Now,
		status: StatusIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = logging.NewComponentLogger(c.base, "recording")
	if ch != nil {
		ch.On(protocol.EventAudioResponse, c.handleResponse)
		ch.On(protocol.EventRecordingStarted, c.handleAck)
		ch.On(protocol.EventRecordingStopped, c.handleAck)
		ch.On(protocol.EventServerError, c.handleServerError)
		ch.On(channel.EventError, c.handleChannelError)
	}
	return c
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the fault that ended the last session, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Holding reports whether new utterances are suppressed while a response plays.
func (c *Controller) Holding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.holdUntil)
}

// SessionID of the active session, empty when none.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

// Start acquires the audio source and begins listening. A failure to open
// the microphone is fatal to the session and is not retried.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return nil
	}
	c.err = nil
	c.mu.Unlock()

	if c.opener == nil {
		return c.abort(errorsx.New(errorsx.ReasonMicUnavailable, "recording: no audio source"))
	}
	buf := audio.NewBuffer()
	src, err := c.opener.Open(ctx, buf)
	if err != nil {
		return c.abort(errorsx.Wrap(err, errorsx.ReasonMicUnavailable))
	}

	id := uuid.NewString()
	logger := c.logger.With(slog.String("session_id", id))
	detOpts := []vad.Option{vad.WithLogger(logger), vad.WithObserver(c.obs)}
	if c.vadTicks != nil {
		detOpts = append(detOpts, vad.WithTicks(c.vadTicks))
	}
	sessCtx, cancel := context.WithCancel(ctx)
	s := &session{
		id:     id,
		src:    src,
		buf:    buf,
		det:    vad.NewDetector(c.cfg.VAD, detOpts...),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.sched = chunk.NewScheduler(c.cfg.Chunk, buf, c.sendChunk, logger, chunk.WithTicker(c.chunkTicker))

	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		cancel()
		_ = src.Close()
		return nil
	}
	c.sess = s
	c.mu.Unlock()

	logger.Info("recording_session_started",
		slog.Float64("volume_threshold", s.det.Config().VolumeThreshold),
		slog.Duration("silence_timeout", s.det.Config().SilenceTimeout),
	)
	c.setStatus(StatusListening)
	go c.run(sessCtx, s)
	return nil
}

func (c *Controller) abort(err error) error {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.logger.Error("recording_source_unavailable", slog.Any("error", err))
	c.setStatus(StatusStopped)
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
	return err
}

// Stop ends the session: an utterance in progress is flushed and closed
// with stop-recording, then the source is released. Safe to call twice.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.sess
	if c.holdTimer != nil {
		c.holdTimer.Stop()
		c.holdTimer = nil
	}
	c.holdUntil = time.Time{}
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Done is closed when the current session ends; nil when idle.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.done
}

func (c *Controller) run(ctx context.Context, s *session) {
	defer close(s.done)
	defer func() {
		if err := s.src.Close(); err != nil {
			c.logger.Warn("recording_source_close_failed", slog.String("session_id", s.id), slog.Any("error", err))
		}
	}()

	analyzer := audio.NewAnalyzer(s.src)
	s.det.Run(ctx, analyzer, func(d vad.Decision, sample audio.LoudnessSample) {
		switch d {
		case vad.StartRecording:
			c.beginUtterance(s, sample)
		case vad.StopRecording:
			c.endUtterance(s)
		}
	})

	c.endUtterance(s)
	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	c.mu.Unlock()
	c.setStatus(StatusStopped)
	c.logger.Info("recording_session_stopped", slog.String("session_id", s.id))
}

func (c *Controller) beginUtterance(s *session, sample audio.LoudnessSample) {
	c.mu.Lock()
	if c.sess != s || c.status != StatusListening {
		c.mu.Unlock()
		return
	}
	if c.now().Before(c.holdUntil) {
		c.mu.Unlock()
		s.det.Reset()
		c.logger.Debug("recording_start_suppressed", slog.String("session_id", s.id))
		return
	}
	c.mu.Unlock()

	s.buf.Arm()
	c.setStatus(StatusRecording)
	s.sched.Start()
	if err := c.ch.SendControl(protocol.EventStartRecording, nil); err != nil {
		c.logger.Warn("recording_control_dropped", slog.String("event", protocol.EventStartRecording), slog.Any("error", err))
	}
	c.logger.Info("utterance_started", slog.String("session_id", s.id), slog.Float64("loudness", sample.Value))
}

// endUtterance flushes the trailing chunk while still Recording, then
// returns to Listening.
func (c *Controller) endUtterance(s *session) {
	c.mu.Lock()
	recording := c.status == StatusRecording
	c.mu.Unlock()
	if !recording {
		return
	}
	s.sched.Stop()
	s.buf.Disarm()
	c.setStatus(StatusListening)
	if err := c.ch.SendControl(protocol.EventStopRecording, nil); err != nil {
		c.logger.Warn("recording_control_dropped", slog.String("event", protocol.EventStopRecording), slog.Any("error", err))
	}
	c.logger.Info("utterance_stopped", slog.String("session_id", s.id), slog.Int("chunks", s.sched.Emitted()))
}

func (c *Controller) sendChunk(data []byte) {
	c.mu.Lock()
	recording := c.status == StatusRecording
	c.mu.Unlock()
	if !recording {
		metrics.Record(c.obs, metrics.EventChunkDropped, float64(len(data)), map[string]string{"reason": "not_recording"})
		return
	}
	// lossy while the channel is down
	if err := c.ch.Send(data); err != nil && !errors.Is(err, channel.ErrNotConnected) {
		c.logger.Debug("recording_chunk_send_failed", slog.Any("error", err))
	}
}

func (c *Controller) handleAck(ev channel.Event) {
	var ack protocol.Ack
	if err := (protocol.Envelope{Event: ev.Name, Data: ev.Data}).DecodeData(&ack); err != nil {
		c.logger.Debug("recording_ack_malformed", slog.String("event", ev.Name), slog.Any("error", err))
		return
	}
	c.logger.Debug("recording_ack", slog.String("event", ev.Name), slog.Bool("success", ack.Success))
}

// handleResponse reports the reply and, when it carries a duration, holds
// off new utterances until that much time has passed.
func (c *Controller) handleResponse(ev channel.Event) {
	var resp protocol.ResponseEvent
	if err := (protocol.Envelope{Event: ev.Name, Data: ev.Data}).DecodeData(&resp); err != nil {
		c.logger.Warn("recording_response_malformed", slog.Any("error", err))
		return
	}
	if hold := resp.HoldFor(); hold > 0 {
		c.mu.Lock()
		if c.sess != nil {
			c.holdUntil = c.now().Add(hold)
			if c.holdTimer != nil {
				c.holdTimer.Stop()
			}
			c.holdTimer = time.AfterFunc(hold, c.resumeListening)
		}
		c.mu.Unlock()
	}
	c.logger.Info("recording_response", slog.Int("chars", len(resp.Text)), slog.Int64("duration_ms", resp.Duration))
	if c.cb.OnResponse != nil {
		c.cb.OnResponse(resp)
	}
}

// handleChannelError ends the session once the channel has given up
// reconnecting. Transient dial errors are left to the channel.
func (c *Controller) handleChannelError(ev channel.Event) {
	if !ev.Terminal {
		return
	}
	err := ev.Err
	if err == nil {
		err = errorsx.New(errorsx.ReasonChannelExhausted, "recording: channel failed")
	} else if !errorsx.HasReason(err, errorsx.ReasonChannelExhausted) {
		err = errorsx.Wrap(err, errorsx.ReasonChannelExhausted)
	}
	c.mu.Lock()
	s := c.sess
	c.err = err
	c.mu.Unlock()
	c.logger.Error("recording_channel_failed", slog.Any("error", err))
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
	if s != nil {
		// handlers must not block; run observes the cancel and stops
		s.cancel()
	} else {
		c.setStatus(StatusStopped)
	}
}

func (c *Controller) handleServerError(ev channel.Event) {
	var e protocol.ErrorEvent
	if err := (protocol.Envelope{Event: ev.Name, Data: ev.Data}).DecodeData(&e); err != nil {
		c.logger.Debug("recording_server_error_malformed", slog.Any("error", err))
		return
	}
	c.logger.Warn("recording_server_error", slog.String("message", e.Message))
	if c.cb.OnError != nil {
		c.cb.OnError(errorsx.New(errorsx.ReasonServerError, e.Message))
	}
}

func (c *Controller) resumeListening() {
	c.mu.Lock()
	c.holdTimer = nil
	status := c.status
	c.mu.Unlock()
	if status == StatusListening {
		c.logger.Debug("recording_listening_resumed")
		if c.cb.OnStatus != nil {
			c.cb.OnStatus(status)
		}
	}
}

func (c *Controller) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	if c.cb.OnStatus != nil {
		c.cb.OnStatus(s)
	}
}
