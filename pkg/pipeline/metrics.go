package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for pipeline runs.
var (
	rowsFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowstream_rows_fetched_total",
		Help: "Total item fetches by result",
	}, []string{"result"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rowstream_fetch_duration_seconds",
		Help:    "Duration of a single item fetch in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
	})

	pipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowstream_pipeline_runs_total",
		Help: "Total pipeline runs by outcome",
	}, []string{"outcome"})

	// SequencerBuffered tracks rows held back by the reorder buffer across all sessions
	SequencerBuffered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rowstream_sequencer_buffered_rows",
		Help: "Rows waiting in reorder buffers for an earlier index",
	})
)
