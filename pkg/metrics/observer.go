package metrics

import (
	"context"
	"log/slog"
	"time"
)

const (
	EventChannelState     = "channel_state"
	EventChannelReconnect = "channel_reconnect"
	EventChunkSent        = "chunk_sent"
	EventChunkDropped     = "chunk_dropped"
	EventVADDecision      = "vad_decision"
	EventStreamFragment   = "stream_fragment"
	EventStreamEnd        = "stream_end"
	EventGatewayAudio     = "gateway_audio_bytes"
	EventGatewayResponse  = "gateway_response"
	EventBreakerDenied    = "breaker_denied"
	EventRateLimit        = "rate_limit"
	EventBreakerOpen      = "breaker_open"
	EventBreakerClose     = "breaker_close"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Record is a convenience for emitting a tagged event; a nil observer is ignored.
func Record(obs Observer, name string, value float64, tags map[string]string) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags})
}

type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log}
}

func (o *LoggerObserver) RecordEvent(ev MetricsEvent) {
	attrs := []slog.Attr{
		slog.String("name", ev.Name),
		slog.Time("time", ev.Time),
		slog.Float64("value", ev.Value),
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.log.LogAttrs(context.TODO(), slog.LevelDebug, "metrics", attrs...)
}

type MultiObserver struct {
	list []Observer
}

func NewMultiObserver(list ...Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev MetricsEvent) {
	for _, obs := range m.list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}
