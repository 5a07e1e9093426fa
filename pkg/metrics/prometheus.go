package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver maps pipeline events onto Prometheus collectors.
// Events with unknown names are counted under voxlink_events_total only.
type PrometheusObserver struct {
	events          *prometheus.CounterVec
	channelReconn   prometheus.Counter
	channelState    *prometheus.GaugeVec
	chunksSent      prometheus.Counter
	chunksDropped   prometheus.Counter
	chunkBytes      prometheus.Histogram
	streamFragments prometheus.Counter
	streamEnds      *prometheus.CounterVec
	gatewayBytes    prometheus.Counter
}

// NewPrometheusObserver creates the collectors and registers them with reg.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	o := &PrometheusObserver{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxlink_events_total",
			Help: "Total number of pipeline events by name",
		}, []string{"name"}),
		channelReconn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxlink_channel_reconnect_attempts_total",
			Help: "Total number of automatic channel reconnection attempts",
		}),
		channelState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voxlink_channel_state",
			Help: "1 for the channel's current state, 0 otherwise",
		}, []string{"state"}),
		chunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxlink_audio_chunks_sent_total",
			Help: "Total number of audio chunks written to the channel",
		}),
		chunksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxlink_audio_chunks_dropped_total",
			Help: "Total number of audio chunks dropped while disconnected",
		}),
		chunkBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxlink_audio_chunk_bytes",
			Help:    "Size of audio chunks sent over the channel",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 8),
		}),
		streamFragments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxlink_stream_fragments_total",
			Help: "Total number of text fragments delivered to callers",
		}),
		streamEnds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxlink_stream_sessions_total",
			Help: "Total number of finished stream sessions by status",
		}, []string{"status"}),
		gatewayBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxlink_gateway_audio_bytes_total",
			Help: "Total audio bytes received by the gateway",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			o.events, o.channelReconn, o.channelState, o.chunksSent, o.chunksDropped,
			o.chunkBytes, o.streamFragments, o.streamEnds, o.gatewayBytes,
		)
	}
	return o
}

func (o *PrometheusObserver) RecordEvent(ev MetricsEvent) {
	o.events.WithLabelValues(ev.Name).Inc()
	switch ev.Name {
	case EventChannelReconnect:
		o.channelReconn.Inc()
	case EventChannelState:
		o.channelState.Reset()
		if state := ev.Tags["state"]; state != "" {
			o.channelState.WithLabelValues(state).Set(1)
		}
	case EventChunkSent:
		o.chunksSent.Inc()
		o.chunkBytes.Observe(ev.Value)
	case EventChunkDropped:
		o.chunksDropped.Inc()
	case EventStreamFragment:
		o.streamFragments.Inc()
	case EventStreamEnd:
		status := ev.Tags["status"]
		if status == "" {
			status = "unknown"
		}
		o.streamEnds.WithLabelValues(status).Inc()
	case EventGatewayAudio:
		o.gatewayBytes.Add(ev.Value)
	}
}
