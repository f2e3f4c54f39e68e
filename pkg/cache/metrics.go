package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh documents served from Redis
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rowstream_cache_hits_total",
			Help: "Total number of document cache hits",
		},
	)

	// CacheMisses tracks lookups that found nothing usable
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rowstream_cache_misses_total",
			Help: "Total number of document cache misses",
		},
	)

	// StoredBytes tracks bytes written to the cache
	StoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rowstream_cache_stored_bytes_total",
			Help: "Total bytes written to the document cache",
		},
	)

	// Revalidations tracks conditional requests by result
	Revalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowstream_cache_revalidations_total",
			Help: "Total conditional requests by result",
		},
		[]string{"result"}, // "not_modified", "changed"
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rowstream_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
