package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signals_emitted_total",
			Help: "Total number of business signals recorded",
		},
		[]string{"signal_type"},
	)

	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dispatch_total",
			Help: "Queue entry outcomes per dispatcher cycle",
		},
		[]string{"channel", "outcome"}, // outcome: sent, retrying, failed, suppressed, deferred
	)

	ProviderCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_latency_ms",
			Help:    "Channel provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"channel", "status"},
	)

	DispatchBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_batch_size",
			Help:    "Number of due queue entries picked up per invocation",
			Buckets: prometheus.LinearBuckets(0, 25, 10),
		},
	)

	SuppressionHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "suppression_hits_total",
			Help: "Sends preempted by the suppression list",
		},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Record store queries slower than the configured threshold",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

func IncrementSignalEmitted(signalType string) {
	SignalsEmitted.WithLabelValues(signalType).Inc()
}

func IncrementDispatchOutcome(channel, outcome string) {
	DispatchOutcomes.WithLabelValues(channel, outcome).Inc()
}

func RecordProviderCallLatency(channel, status string, duration time.Duration) {
	ProviderCallLatency.WithLabelValues(channel, status).Observe(float64(duration.Milliseconds()))
}

func ObserveDispatchBatchSize(n int) {
	DispatchBatchSize.Observe(float64(n))
}

func IncrementSuppressionHit() {
	SuppressionHits.Inc()
}

func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
