package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks quote requests served by the routing surface.
	QuoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_quote_requests_total",
			Help: "Total number of quote requests (by result).",
		},
		[]string{"result"}, // routed | no_route | invalid
	)

	// Measures end-to-end route discovery latency.
	RouteDiscoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routing_route_discovery_duration_seconds",
			Help:    "Duration of best-route discovery in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"hops"},
	)

	// Tracks provider prefetch outcomes.
	ProviderFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_provider_fetch_total",
			Help: "Total provider fetch cycles by venue and result.",
		},
		[]string{"venue", "result"},
	)

	// Gauges the last successful prefetch time per venue (seconds since epoch).
	LastPrefetchTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "routing_last_prefetch_timestamp",
			Help: "Timestamp (unix seconds) of the last successful prefetch per venue.",
		},
		[]string{"venue"},
	)

	// Tracks pipeline state transitions.
	PipelineTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_pipeline_transitions_total",
			Help: "Count of quote pipeline transitions by stage and result.",
		},
		[]string{"stage", "result"}, // stage = reserve | deposit | confirm | execute
	)

	// Measures execution driver run time.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routing_execution_duration_seconds",
			Help:    "Duration of route executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"status"},
	)

	// Tracks NATS messages published by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages published.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)
)

// ObserveDuration records the time taken since start on a histogram vector.
func ObserveDuration(v *prometheus.HistogramVec, start time.Time, labels ...string) {
	v.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}

func IncQuoteRequest(result string) {
	QuoteRequestsTotal.WithLabelValues(result).Inc()
}

func IncProviderFetch(venue, result string) {
	ProviderFetchTotal.WithLabelValues(venue, result).Inc()
}

func SetLastPrefetch(venue string, t time.Time) {
	LastPrefetchTimestamp.WithLabelValues(venue).Set(float64(t.Unix()))
}

func IncPipelineTransition(stage, result string) {
	PipelineTransitionsTotal.WithLabelValues(stage, result).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}
