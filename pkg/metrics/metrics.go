// Package metrics serves the Prometheus metrics of rowstream.
// All metrics are defined in their respective packages (protocol, pipeline,
// session, server, upstream, cache, ratelimit) and registered with the
// default registerer through promauto.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by rowstream.
var Registry = prometheus.DefaultRegisterer

// Path is where the metrics handler is mounted.
const Path = "/metrics"

// NewServer returns an HTTP server exposing Path and a /healthz liveness
// endpoint on addr. The caller starts and stops it.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(Path, promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Metrics Documentation
//
// Wire protocol (pkg/protocol):
//   - rowstream_frames_written_total{kind} (Counter): Frames written by kind (count, line)
//   - rowstream_frame_bytes_written_total (Counter): Frame bytes written
//   - rowstream_frame_write_errors_total (Counter): Failed frame writes
//
// Pipeline (pkg/pipeline):
//   - rowstream_rows_fetched_total{result} (Counter): Item fetches by result
//   - rowstream_fetch_duration_seconds (Histogram): Single item fetch duration
//   - rowstream_pipeline_runs_total{outcome} (Counter): Pipeline runs by outcome
//   - rowstream_sequencer_buffered_rows (Gauge): Rows held out of order
//
// Sessions (pkg/session, pkg/server):
//   - rowstream_connections_accepted_total (Counter): Accepted connections
//   - rowstream_sessions_total{outcome} (Counter): Finished sessions by outcome
//   - rowstream_session_duration_seconds (Histogram): Session duration
//   - rowstream_sessions_active (Gauge): Sessions in progress
//
// Upstream (pkg/upstream, pkg/cache, pkg/ratelimit):
//   - rowstream_upstream_requests_total{kind, status} (Counter): Requests by document kind and status
//   - rowstream_upstream_request_duration_seconds{kind} (Histogram): Request duration
//   - rowstream_upstream_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - rowstream_cache_hits_total, rowstream_cache_misses_total (Counter): Document cache lookups
//   - rowstream_cache_stored_bytes_total (Counter): Bytes written to the cache
//   - rowstream_cache_revalidations_total{result} (Counter): Conditional requests by result
//   - rowstream_cache_errors_total{operation} (Counter): Cache operation errors
//   - rowstream_upstream_ratelimit_remaining{host} (Gauge): Requests left in the window
//   - rowstream_ratelimit_blocks_total, rowstream_ratelimit_throttles_total (Counter): Gate decisions
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(rowstream_cache_hits_total[5m])) /
//   (sum(rate(rowstream_cache_hits_total[5m])) + sum(rate(rowstream_cache_misses_total[5m])))
//
//   # Failed stream rate
//   rate(rowstream_sessions_total{outcome="upstream_error"}[5m])
//
//   # P95 item fetch latency
//   histogram_quantile(0.95, rate(rowstream_fetch_duration_seconds_bucket[5m]))
