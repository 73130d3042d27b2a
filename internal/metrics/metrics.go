package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesHandled counts inbound messages by terminal path.
	MessagesHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statusline_messages_handled_total",
			Help: "Inbound messages handled, by outcome",
		},
		[]string{"outcome"},
	)

	ScoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statusline_score_latency_seconds",
			Help:    "Latency of the update scoring step",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"scorer", "status"},
	)

	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statusline_store_writes_total",
			Help: "Task store writes, by operation and result",
		},
		[]string{"op", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statusline_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"method", "route", "status"},
	)

	DuplicateDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "statusline_duplicate_deliveries_total",
			Help: "Webhook deliveries skipped because the message id was already handled",
		},
	)
)

func IncrementMessagesHandled(outcome string) {
	MessagesHandled.WithLabelValues(outcome).Inc()
}

func RecordScoreLatency(scorer, status string, d time.Duration) {
	ScoreLatency.WithLabelValues(scorer, status).Observe(d.Seconds())
}

func IncrementStoreWrite(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreWrites.WithLabelValues(op, status).Inc()
}

func RecordHTTPRequestDuration(method, route, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
