package upstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for upstream requests. The kind label is "list" or "item".
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowstream_upstream_requests_total",
		Help: "Total upstream requests by document kind and status",
	}, []string{"kind", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rowstream_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by document kind",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"kind"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowstream_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)
