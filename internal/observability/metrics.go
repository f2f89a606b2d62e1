package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vqa_http_requests_total",
			Help: "HTTP requests by method, matched route and status.",
		},
		[]string{"method", "route", "status"},
	)

	// Ask requests wait on the model, so the upper buckets reach two minutes.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vqa_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route", "status"},
	)

	httpRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vqa_http_requests_in_flight",
		Help: "HTTP requests currently being served.",
	})

	httpPanicsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vqa_http_panics_total",
		Help: "Handler panics recovered by the HTTP stack.",
	})

	authRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vqa_auth_rejections_total",
			Help: "Requests rejected by API key authentication.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		httpRequestsInFlight,
		httpPanicsTotal,
		authRejectionsTotal,
	)
}

// ObserveAuthRejection counts a rejected request; reason is "missing" or "invalid".
func ObserveAuthRejection(reason string) {
	authRejectionsTotal.WithLabelValues(reason).Inc()
}
