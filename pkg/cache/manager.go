package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates no fresh document is cached for the key
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a cached value that could not be decoded
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultMaxTTL caps how long any document is kept.
const DefaultMaxTTL = 24 * time.Hour

// Manager stores documents in Redis, each with a TTL derived from its
// expiry time.
type Manager struct {
	redis  redis.UniversalClient
	maxTTL time.Duration
}

// NewManager creates a cache manager. maxTTL <= 0 uses DefaultMaxTTL.
func NewManager(redisClient redis.UniversalClient, maxTTL time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if maxTTL <= 0 {
		maxTTL = DefaultMaxTTL
	}
	return &Manager{
		redis:  redisClient,
		maxTTL: maxTTL,
	}
}

// Get returns the document for key, or ErrCacheMiss if there is none.
// A stale document is returned together with ErrCacheMiss so the caller can
// still revalidate it.
func (m *Manager) Get(ctx context.Context, key Key) (*Document, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if doc.IsExpired() {
		CacheMisses.Inc()
		return &doc, ErrCacheMiss
	}

	CacheHits.Inc()
	return &doc, nil
}

// Set stores doc until it expires, capped at the manager's max TTL.
// Documents that have already expired but carry a validator are kept for
// revalidation for the max TTL; the rest are not stored.
func (m *Manager) Set(ctx context.Context, key Key, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("document cannot be nil")
	}

	ttl := doc.TTL()
	if ttl <= 0 {
		if !doc.CanRevalidate() {
			return nil
		}
		ttl = m.maxTTL
	}
	if ttl > m.maxTTL {
		ttl = m.maxTTL
	}

	data, err := json.Marshal(doc)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal document: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	StoredBytes.Add(float64(len(data)))
	return nil
}

// Delete removes the document for key.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Refresh moves the expiry of a cached document after a 304 Not Modified.
func (m *Manager) Refresh(ctx context.Context, key Key, doc *Document, expires time.Time) error {
	if doc == nil {
		return fmt.Errorf("document cannot be nil")
	}

	refreshed := *doc
	refreshed.Expires = expires
	refreshed.StoredAt = time.Now()
	return m.Set(ctx, key, &refreshed)
}
