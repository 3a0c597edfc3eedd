package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for chorus
type Metrics struct {
	// Routing metrics
	MessagesRouted  *prometheus.CounterVec
	MentionResolves *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	SessionsCleared prometheus.Counter

	// Dispatch metrics
	CompletionResults *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	ProviderTokens    *prometheus.CounterVec
	BlackoutsSet      *prometheus.CounterVec

	// Gateway metrics
	InboundMessages   *prometheus.CounterVec
	OutboundReplies   *prometheus.CounterVec
	SuppressedReplies prometheus.Counter

	// System metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			MessagesRouted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chorus_messages_routed_total",
					Help: "Inbound messages by routing outcome",
				},
				[]string{"outcome"}, // mention, session, channel, unrouted
			),
			MentionResolves: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chorus_mention_resolves_total",
					Help: "Mention resolution attempts by result",
				},
				[]string{"result"}, // hit, miss
			),
			SessionsActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "chorus_sessions_active",
					Help: "Approximate number of live conversation sessions",
				},
			),
			SessionsCleared: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "chorus_sessions_cleared_total",
					Help: "Explicit session clears",
				},
			),

			CompletionResults: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chorus_completion_results_total",
					Help: "Completion dispatches by persona and result",
				},
				[]string{"persona", "result"}, // success, dedup_hit, provider_error, classified_error, config_error
			),
			ProviderLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "chorus_provider_request_duration_seconds",
					Help:    "Provider API request duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to 51s
				},
				[]string{"persona"},
			),
			ProviderTokens: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chorus_provider_tokens_total",
					Help: "Total tokens processed per persona",
				},
				[]string{"persona"},
			),
			BlackoutsSet: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chorus_blackouts_set_total",
					Help: "Blackout windows set per persona",
				},
				[]string{"persona"},
			),

			InboundMessages: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chorus_inbound_messages_total",
					Help: "Messages consumed from the inbound stream",
				},
				[]string{"channel_kind"}, // dm, guild
			),
			OutboundReplies: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chorus_outbound_replies_total",
					Help: "Replies published to the outbound stream",
				},
				[]string{"persona"},
			),
			SuppressedReplies: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "chorus_suppressed_replies_total",
					Help: "Replies withheld due to the suppression sentinel",
				},
			),

			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chorus_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "chorus_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})

	return sharedMetrics
}

// RecordCompletion records one settled completion call.
func (m *Metrics) RecordCompletion(personaName, result string, seconds float64, tokens int64) {
	m.CompletionResults.WithLabelValues(personaName, result).Inc()
	m.ProviderLatency.WithLabelValues(personaName).Observe(seconds)
	if tokens > 0 {
		m.ProviderTokens.WithLabelValues(personaName).Add(float64(tokens))
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
