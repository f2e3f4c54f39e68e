// Package cache keeps upstream documents in Redis so repeated list and item
// lookups do not hit the upstream site again while they are fresh.
//
// Freshness comes from the response: Cache-Control max-age first, then
// Expires, then DefaultTTL. Documents with an ETag or Last-Modified are
// revalidated with a conditional request once stale; a 304 Not Modified
// extends the cached copy instead of downloading it again.
//
// # Usage
//
//	manager := cache.NewManager(redisClient, 0)
//	key := cache.KeyFor(req.URL)
//
//	doc, err := manager.Get(ctx, key)
//	switch {
//	case err == nil:
//		// fresh, use doc.Body
//	case errors.Is(err, cache.ErrCacheMiss) && doc.CanRevalidate():
//		cache.AddConditionalHeaders(req, doc)
//	}
//
// # Metrics
//
//   - rowstream_cache_hits_total
//   - rowstream_cache_misses_total
//   - rowstream_cache_stored_bytes_total
//   - rowstream_cache_revalidations_total{result}
//   - rowstream_cache_errors_total{operation}
package cache
