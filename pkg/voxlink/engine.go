package voxlink

import (
	"context"
	"log/slog"

	"github.com/harunnryd/voxlink/pkg/audio"
	"github.com/harunnryd/voxlink/pkg/channel"
	"github.com/harunnryd/voxlink/pkg/gateway"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/metrics"
	"github.com/harunnryd/voxlink/pkg/recording"
	"github.com/harunnryd/voxlink/pkg/redact"
	"github.com/harunnryd/voxlink/pkg/resilience"
	"github.com/harunnryd/voxlink/pkg/responder"
	"github.com/harunnryd/voxlink/pkg/stream"
	"github.com/prometheus/client_golang/prometheus"
)

// Observability bundles the logger and metrics pipeline built from config.
type Observability struct {
	Logger   *slog.Logger
	Observer metrics.Observer
	Registry *prometheus.Registry
	async    *metrics.AsyncObserver
}

// NewObservability installs the default logger, applies the privacy
// setting and builds the metrics observers.
func NewObservability(cfg Config) *Observability {
	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)
	o := &Observability{Logger: logger, Observer: metrics.NoopObserver{}}
	if !cfg.Metrics.Enabled {
		return o
	}
	o.Registry = prometheus.NewRegistry()
	var obs metrics.Observer = metrics.NewPrometheusObserver(o.Registry)
	if cfg.Metrics.Async {
		o.async = metrics.NewAsyncObserver(obs, cfg.Metrics.BufferSize)
		obs = o.async
	}
	o.Observer = obs
	return o
}

// Close flushes buffered metrics.
func (o *Observability) Close() {
	if o.async != nil {
		o.async.Close()
	}
}

// NewServer builds the gateway with the configured responder, wrapped in
// retry and rate-limit breaking, and the optional transcriber.
func NewServer(cfg Config, providers *ProviderRegistry, obs *Observability) (*gateway.Server, error) {
	if providers == nil {
		providers = DefaultProviders()
	}
	inner, err := providers.BuildResponder(cfg.Responder)
	if err != nil {
		return nil, err
	}
	breaker := responder.NewCircuitBreaker(
		responder.NewRetrying(inner, responder.RetryConfig{}),
		resilience.NewCircuitBreaker(cfg.Stream.BreakerThreshold, cfg.Stream.BreakerCooldown),
	)
	breaker.SetObserver(obs.Observer)

	opts := []gateway.Option{
		gateway.WithLogger(obs.Logger),
		gateway.WithObserver(obs.Observer),
	}
	if obs.Registry != nil {
		opts = append(opts, gateway.WithGatherer(obs.Registry))
	}
	transcriber, err := providers.BuildTranscriber(cfg.Transcriber)
	if err != nil {
		return nil, err
	}
	if transcriber != nil {
		opts = append(opts, gateway.WithTranscriber(transcriber))
	}
	return gateway.New(cfg.Server, breaker, opts...), nil
}

// Client is the voice side: one owned channel, a recording controller
// bound to it and a stream manager for text replies.
type Client struct {
	Channel   *channel.Channel
	Recording *recording.Controller
	Streams   *stream.Manager
}

// NewClient wires the client components. opener supplies the microphone;
// nil reads PCM from cfg.Audio.Input.
func NewClient(cfg Config, opener audio.Opener, obs *Observability, cb recording.Callbacks) *Client {
	if opener == nil {
		opener = audio.FileOpener{Path: cfg.Audio.Input, Config: cfg.Audio.PCM()}
	}
	ch := channel.New(cfg.Channel,
		channel.WithLogger(obs.Logger),
		channel.WithObserver(obs.Observer),
	)
	rec := recording.New(cfg.Recording(), opener, ch,
		recording.WithLogger(obs.Logger),
		recording.WithObserver(obs.Observer),
		recording.WithCallbacks(cb),
	)
	sc := stream.NewClient(cfg.Stream,
		stream.WithLogger(obs.Logger),
		stream.WithObserver(obs.Observer),
	)
	return &Client{Channel: ch, Recording: rec, Streams: stream.NewManager(sc)}
}

// Start connects the channel and begins listening. A failed first dial is
// not fatal: the channel keeps retrying in the background.
func (c *Client) Start(ctx context.Context) error {
	if err := c.Channel.Connect(ctx); err != nil {
		slog.Warn("channel_connect_deferred", slog.String("error", err.Error()))
	}
	return c.Recording.Start(ctx)
}

// Stop ends the recording session, cancels any reply stream and closes the
// channel.
func (c *Client) Stop() {
	c.Recording.Stop()
	c.Streams.Cancel()
	c.Channel.Disconnect()
}
