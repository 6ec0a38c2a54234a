// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ProviderRequestDuration tracks LLM provider call duration.
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_provider_request_duration_seconds",
			Help:    "LLM provider request duration",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model"},
	)

	// EventsTrackedTotal counts tracking calls by event type and outcome.
	EventsTrackedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_events_tracked_total",
			Help: "Total events handed to the tracker",
		},
		[]string{"event_type", "outcome"},
	)

	// TrackerQueueDepth tracks events waiting for a batch flush.
	TrackerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentwatch_tracker_queue_depth",
			Help: "Events queued for the next flush",
		},
	)

	// FlushDuration tracks batch flush duration.
	FlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentwatch_flush_duration_seconds",
			Help:    "Batch flush duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"trigger", "status"},
	)

	// FlushFailuresTotal counts failed batch flushes.
	FlushFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_flush_failures_total",
			Help: "Total failed batch flushes",
		},
		[]string{"trigger"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// NATSPublishedTotal counts events mirrored to JetStream.
	NATSPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_events_published_total",
			Help: "Events published to the NATS stream",
		},
		[]string{"status"},
	)

	// NATSStreamMessages tracks messages in NATS stream.
	NATSStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)

	// NATSStreamBytes tracks bytes in NATS stream.
	NATSStreamBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_bytes",
			Help: "Bytes in NATS stream",
		},
		[]string{"stream"},
	)

	// NATSConnected is 1 while the mirror connection is up.
	NATSConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nats_connected",
			Help: "Whether the NATS event mirror is connected",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordProviderCall records metrics for one LLM provider call.
func RecordProviderCall(provider, model, status string, duration float64, tokens int) {
	ProviderRequestDuration.WithLabelValues(provider, status).Observe(duration)
	if tokens > 0 {
		LLMTokensTotal.WithLabelValues(model).Add(float64(tokens))
	}
}

// RecordTracked counts one tracking call.
func RecordTracked(eventType, outcome string) {
	EventsTrackedTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordFlush records metrics for a batch flush.
func RecordFlush(trigger string, duration float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		FlushFailuresTotal.WithLabelValues(trigger).Inc()
	}
	FlushDuration.WithLabelValues(trigger, status).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}

// SetNATSConnected records the mirror connection state.
func SetNATSConnected(up bool) {
	if up {
		NATSConnected.Set(1)
		return
	}
	NATSConnected.Set(0)
}
