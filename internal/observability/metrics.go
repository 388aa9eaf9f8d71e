package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Guard metrics
	SecurityRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_rejections_total",
			Help: "Requests refused by a guard, by guard and reason",
		},
		[]string{"guard", "reason"},
	)

	UploadsValidatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uploads_validated_total",
			Help: "HTML uploads run through the validator, by outcome",
		},
		[]string{"outcome"},
	)

	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Rate limiter decisions, by result (allowed, warned, denied)",
		},
		[]string{"result"},
	)

	RateLimitTrackedKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rate_limit_tracked_keys",
			Help: "Number of client keys currently tracked by the rate limiter",
		},
	)

	StoreSweepDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_sweep_deleted_total",
			Help: "Expired records removed by background sweeps",
		},
		[]string{"store"},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"operation", "table"},
	)
)

// RecordRejection counts a request refused by guard for reason.
func RecordRejection(guard, reason string) {
	SecurityRejectionsTotal.WithLabelValues(guard, reason).Inc()
}
