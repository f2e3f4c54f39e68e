package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowstream_sessions_total",
		Help: "Total sessions by outcome",
	}, []string{"outcome"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rowstream_session_duration_seconds",
		Help:    "Session duration from accept to close",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rowstream_sessions_active",
		Help: "Sessions currently open",
	})
)
