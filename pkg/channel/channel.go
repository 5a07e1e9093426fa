// Package channel is a websocket client that carries audio chunks and
// control events and reconnects with bounded exponential backoff.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/metrics"
	"github.com/harunnryd/voxlink/pkg/protocol"
	"github.com/harunnryd/voxlink/pkg/resilience"
)

type Config struct {
	URL              string        `mapstructure:"url"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	SendBuffer       int           `mapstructure:"send_buffer"`
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	return c
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Option func(*Channel)

func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = logging.NewComponentLogger(l, "channel") }
}

func WithObserver(obs metrics.Observer) Option {
	return func(c *Channel) { c.obs = obs }
}

// WithSleeper replaces the backoff wait; tests record delays instead of waiting.
func WithSleeper(s Sleeper) Option {
	return func(c *Channel) { c.sleep = s }
}

// WithHeader adds handshake headers (auth, session id).
func WithHeader(h http.Header) Option {
	return func(c *Channel) { c.header = h.Clone() }
}

// Channel owns one websocket connection at a time. It is created explicitly
// and injected into whatever needs to send on it.
type Channel struct {
	cfg     Config
	dialer  *websocket.Dialer
	header  http.Header
	backoff resilience.Backoff
	sleep   Sleeper
	logger  *slog.Logger
	obs     metrics.Observer

	mu         sync.Mutex
	state      State
	attempt    int
	lastErr    error
	link       *link
	closed     bool
	loopCancel context.CancelFunc

	hmu      sync.RWMutex
	handlers map[string][]Handler
}

func New(cfg Config, opts ...Option) *Channel {
	cfg = cfg.withDefaults()
	c := &Channel{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		backoff:  resilience.NewBackoff(cfg.BaseDelay, cfg.MaxDelay, cfg.MaxAttempts),
		sleep:    sleepCtx,
		logger:   logging.NewComponentLogger(nil, "channel"),
		handlers: make(map[string][]Handler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// On registers h for an event name: a lifecycle event or a server event
// such as protocol.EventAudioResponse.
func (c *Channel) On(event string, h Handler) {
	if h == nil {
		return
	}
	c.hmu.Lock()
	c.handlers[event] = append(c.handlers[event], h)
	c.hmu.Unlock()
}

func (c *Channel) emit(ev Event) {
	c.hmu.RLock()
	list := append([]Handler(nil), c.handlers[ev.Name]...)
	c.hmu.RUnlock()
	for _, h := range list {
		h(ev)
	}
}

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Attempt: c.attempt, LastError: c.lastErr}
}

// Connect dials the server. If the first dial fails the error is returned
// and the channel keeps retrying in the background with backoff; watch
// Status or the error event. ctx only bounds the dial, Disconnect ends the
// channel's lifetime. Connect on a live channel is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	return c.start(ctx, false)
}

// Reconnect tears down the current connection, resets the attempt counter
// and dials again, even after the channel has failed.
func (c *Channel) Reconnect(ctx context.Context) error {
	return c.start(ctx, true)
}

func (c *Channel) start(ctx context.Context, manual bool) error {
	c.mu.Lock()
	if !manual && (c.state == StateConnected || c.state == StateConnecting || c.state == StateReconnecting) {
		c.mu.Unlock()
		return nil
	}
	if c.loopCancel != nil {
		c.loopCancel()
	}
	old := c.link
	c.link = nil
	c.closed = false
	if manual {
		c.attempt = 0
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.loopCancel = cancel
	c.mu.Unlock()

	if old != nil {
		old.close()
	}
	c.setState(StateConnecting)

	err := c.dialOnce(ctx, loopCtx)
	if err == nil {
		return nil
	}
	if loopCtx.Err() != nil {
		return errorsx.Wrap(err, errorsx.ReasonChannelConnect)
	}
	// the first dial is not a backoff attempt
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.logger.Warn("channel_connect_failed", slog.String("url", c.cfg.URL), slog.Any("error", err))
	c.emit(Event{Name: EventError, Err: err})
	go c.reconnectLoop(loopCtx)
	return errorsx.Wrap(err, errorsx.ReasonChannelConnect)
}

// reconnectLoop waits Delay(attempt) and redials until it connects, the
// attempt cap is reached, or loopCtx is cancelled.
func (c *Channel) reconnectLoop(loopCtx context.Context) {
	for {
		c.mu.Lock()
		if loopCtx.Err() != nil || c.closed {
			c.mu.Unlock()
			return
		}
		attempt := c.attempt
		if c.backoff.Exhausted(attempt) {
			c.mu.Unlock()
			c.fail(loopCtx)
			return
		}
		c.mu.Unlock()

		delay := c.backoff.Delay(attempt)
		c.setState(StateReconnecting)
		c.logger.Info("channel_reconnect_scheduled",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
		)
		metrics.Record(c.obs, metrics.EventChannelReconnect, float64(delay.Milliseconds()), map[string]string{"attempt": fmt.Sprint(attempt + 1)})
		c.emit(Event{Name: EventReconnecting, Attempt: attempt + 1, Delay: delay})

		if err := c.sleep(loopCtx, delay); err != nil {
			return
		}
		if loopCtx.Err() != nil {
			return
		}
		c.setState(StateConnecting)
		err := c.dialOnce(loopCtx, loopCtx)
		if err == nil {
			return
		}
		if loopCtx.Err() != nil {
			return
		}
		c.mu.Lock()
		c.attempt++
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Warn("channel_reconnect_failed", slog.Int("attempt", attempt+1), slog.Any("error", err))
	}
}

func (c *Channel) fail(loopCtx context.Context) {
	c.mu.Lock()
	if loopCtx.Err() != nil {
		c.mu.Unlock()
		return
	}
	last := c.lastErr
	attempts := c.attempt
	c.mu.Unlock()
	if last == nil {
		last = ErrNotConnected
	}

	err := errorsx.Errorf(errorsx.ReasonChannelExhausted, "channel: gave up after %d attempts: %w", attempts, last)
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.setState(StateFailed)
	c.logger.Error("channel_failed", slog.Int("attempts", attempts), slog.Any("error", last))
	c.emit(Event{Name: EventError, Err: err, Terminal: true})
}

// dialOnce dials with dialCtx and, on success, binds the connection to the
// channel and starts its pumps under loopCtx.
func (c *Channel) dialOnce(dialCtx, loopCtx context.Context) error {
	if c.cfg.URL == "" {
		return errors.New("channel: url is required")
	}
	conn, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	l := newLink(conn, c.cfg.SendBuffer)
	c.mu.Lock()
	if loopCtx.Err() != nil || c.closed {
		c.mu.Unlock()
		l.close()
		return ErrClosed
	}
	c.link = l
	c.attempt = 0
	c.lastErr = nil
	c.mu.Unlock()

	go c.writePump(l)
	go c.readPump(l)

	c.setState(StateConnected)
	c.logger.Info("channel_connected", slog.String("url", c.cfg.URL))
	c.emit(Event{Name: EventConnected})
	return nil
}

// handleDrop reacts to a read or write failure on l. Stale links, and
// drops after Disconnect, are ignored.
func (c *Channel) handleDrop(l *link, err error) {
	c.mu.Lock()
	if c.link != l || c.closed {
		c.mu.Unlock()
		l.close()
		return
	}
	c.link = nil
	c.lastErr = err
	if c.loopCancel != nil {
		c.loopCancel()
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.loopCancel = cancel
	c.mu.Unlock()

	l.close()
	c.setState(StateReconnecting)
	c.logger.Warn("channel_dropped", slog.Any("error", err))
	c.emit(Event{Name: EventDisconnected, Err: err})
	go c.reconnectLoop(loopCtx)
}

// Disconnect closes the connection and stops any pending reconnect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopCancel = nil
	}
	l := c.link
	c.link = nil
	wasLive := l != nil || c.state != StateDisconnected
	c.closed = true
	c.mu.Unlock()

	if l != nil {
		l.closeGracefully(c.cfg.WriteTimeout)
	}
	c.setState(StateDisconnected)
	if wasLive {
		c.logger.Info("channel_disconnected")
		c.emit(Event{Name: EventDisconnected})
	}
}

// Send queues an opaque audio chunk as a binary message. While the channel
// is not connected the chunk is dropped and counted.
func (c *Channel) Send(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	err := c.enqueue(outbound{kind: websocket.BinaryMessage, data: chunk})
	if err != nil {
		metrics.Record(c.obs, metrics.EventChunkDropped, float64(len(chunk)), map[string]string{"reason": dropReason(err)})
		c.logger.Debug("channel_chunk_dropped", slog.Int("bytes", len(chunk)), slog.Any("error", err))
		return err
	}
	metrics.Record(c.obs, metrics.EventChunkSent, float64(len(chunk)), nil)
	return nil
}

// SendControl queues a control event as a JSON text message.
func (c *Channel) SendControl(event string, payload any) error {
	raw, err := protocol.Encode(event, payload)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonChannelSend)
	}
	if err := c.enqueue(outbound{kind: websocket.TextMessage, data: raw}); err != nil {
		c.logger.Debug("channel_control_dropped", slog.String("event", event), slog.Any("error", err))
		return err
	}
	return nil
}

func (c *Channel) enqueue(msg outbound) error {
	c.mu.Lock()
	l := c.link
	closed := c.closed
	connected := c.state == StateConnected
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if l == nil || !connected {
		return ErrNotConnected
	}
	return l.enqueue(msg)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	default:
		return "disconnected"
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("channel_state", slog.String("from", from.String()), slog.String("to", s.String()))
	metrics.Record(c.obs, metrics.EventChannelState, 0, map[string]string{"state": s.String()})
}
