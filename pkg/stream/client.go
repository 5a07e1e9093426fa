// Package stream consumes server-sent text replies: it issues the request,
// parses frames incrementally and reports fragments to the caller, with
// first-class cancellation.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/metrics"
	"github.com/harunnryd/voxlink/pkg/redact"
	"github.com/harunnryd/voxlink/pkg/resilience"
	"github.com/harunnryd/voxlink/pkg/sse"
)

const maxErrorBody = 4096

type Config struct {
	URL              string        `mapstructure:"url"`
	Method           string        `mapstructure:"method"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.NewComponentLogger(l, "stream") }
}

func WithObserver(obs metrics.Observer) Option {
	return func(c *Client) { c.obs = obs }
}

func WithBreaker(b *resilience.CircuitBreaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

// Client starts stream sessions against one endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
	obs     metrics.Observer
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{},
		breaker: resilience.NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		logger:  logging.NewComponentLogger(nil, "stream"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Start issues the request and returns immediately; progress arrives via
// h. It fails synchronously only when the request cannot be built or the
// rate-limit breaker is open.
func (c *Client) Start(ctx context.Context, prompt string, h Handlers) (*Session, error) {
	if !c.breaker.Allow() {
		metrics.Record(c.obs, metrics.EventBreakerDenied, 1, map[string]string{"component": "stream"})
		return nil, resilience.RateLimitError{Provider: "stream", Message: "stream: rate limited, backing off"}
	}
	s := newSession(ctx, uuid.NewString(), h)
	req, err := c.buildRequest(s.ctx, prompt)
	if err != nil {
		s.cancel(err)
		return nil, errorsx.Wrap(err, errorsx.ReasonStreamTransport)
	}
	c.logger.Info("stream_started",
		slog.String("session_id", s.ID),
		slog.String("method", req.Method),
		slog.String("prompt", redact.Text(prompt)),
	)
	go c.run(s, req)
	return s, nil
}

func (c *Client) buildRequest(ctx context.Context, prompt string) (*http.Request, error) {
	var req *http.Request
	var err error
	if c.cfg.Method == http.MethodGet {
		u, perr := url.Parse(c.cfg.URL)
		if perr != nil {
			return nil, perr
		}
		q := u.Query()
		q.Set("prompt", prompt)
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	} else {
		body, merr := json.Marshal(map[string]string{"prompt": prompt})
		if merr != nil {
			return nil, merr
		}
		req, err = http.NewRequestWithContext(ctx, c.cfg.Method, c.cfg.URL, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	return req, nil
}

func (c *Client) run(s *Session, req *http.Request) {
	defer close(s.done)
	defer s.cancel(nil)

	resp, err := c.http.Do(req)
	if err != nil {
		c.end(s, c.classify(s, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		herr := &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		if resp.StatusCode == http.StatusTooManyRequests {
			metrics.Record(c.obs, metrics.EventRateLimit, 1, map[string]string{"component": "stream"})
			c.breaker.OnError(resilience.RateLimitError{Provider: "stream", Message: herr.Body})
		}
		c.end(s, outcome{status: StatusErrored, err: errorsx.Wrap(herr, errorsx.ReasonStreamHTTP)})
		return
	}
	c.breaker.OnSuccess()
	if resp.Body == nil || resp.Body == http.NoBody {
		c.end(s, outcome{status: StatusErrored, err: errorsx.New(errorsx.ReasonStreamMalformed, "stream: response has no body")})
		return
	}

	reader := sse.NewReader(resp.Body)
	for frame, err := range reader.Frames() {
		if err != nil {
			c.end(s, c.classify(s, err))
			return
		}
		if frame.Event != sse.DefaultEvent || frame.Data == "" {
			c.logger.Debug("stream_frame_skipped", slog.String("session_id", s.ID), slog.String("event", frame.Event))
			continue
		}
		if !s.fragment(frame.Data) {
			break
		}
		metrics.Record(c.obs, metrics.EventStreamFragment, float64(len(frame.Data)), nil)
	}
	if s.cancelled() {
		c.end(s, outcome{status: StatusCancelled})
		return
	}
	c.end(s, outcome{status: StatusCompleted})
}

type outcome struct {
	status Status
	err    error
}

// classify separates caller cancellation, which is not an error, from
// transport and remote failures.
func (c *Client) classify(s *Session, err error) outcome {
	if s.cancelled() {
		return outcome{status: StatusCancelled}
	}
	var remote *sse.RemoteError
	if errors.As(err, &remote) {
		return outcome{status: StatusErrored, err: errorsx.Wrap(err, errorsx.ReasonStreamRemote)}
	}
	return outcome{status: StatusErrored, err: errorsx.Wrap(err, errorsx.ReasonStreamTransport)}
}

func (c *Client) end(s *Session, o outcome) {
	final := s.finish(o.status, o.err)
	attrs := []any{
		slog.String("session_id", s.ID),
		slog.String("status", final.String()),
		slog.Int("chars", len(s.Text())),
	}
	if final == StatusErrored {
		c.logger.Warn("stream_ended", append(attrs, slog.String("reason_code", string(errorsx.Reason(o.err))), slog.String("error", redact.Secret(o.err.Error())))...)
	} else {
		c.logger.Info("stream_ended", attrs...)
	}
	metrics.Record(c.obs, metrics.EventStreamEnd, 0, map[string]string{"status": final.String()})
}
