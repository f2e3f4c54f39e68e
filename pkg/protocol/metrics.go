package protocol

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesWritten tracks frames written to peers by kind ("count", "line")
	FramesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowstream_frames_written_total",
			Help: "Total number of protocol frames written",
		},
		[]string{"kind"},
	)

	// FrameBytesWritten tracks wire bytes written, length prefixes included
	FrameBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rowstream_frame_bytes_written_total",
			Help: "Total number of bytes written as protocol frames",
		},
	)

	// WriteErrors tracks failed frame writes
	WriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rowstream_frame_write_errors_total",
			Help: "Total number of frame writes that failed",
		},
	)
)
