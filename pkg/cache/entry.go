package cache

import (
	"time"
)

// Document is a cached upstream response body with the validators needed
// to revalidate it.
type Document struct {
	// Body is the raw response body
	Body []byte `json:"body"`

	// ContentType of the cached response
	ContentType string `json:"content_type,omitempty"`

	// ETag for If-None-Match revalidation
	ETag string `json:"etag,omitempty"`

	// LastModified for If-Modified-Since revalidation
	LastModified time.Time `json:"last_modified,omitempty"`

	// Expires is when the document goes stale
	Expires time.Time `json:"expires"`

	// StoredAt is when the document was written to the cache
	StoredAt time.Time `json:"stored_at"`
}

// IsExpired reports whether the document is stale.
func (d *Document) IsExpired() bool {
	return time.Now().After(d.Expires)
}

// TTL returns the time until the document goes stale, 0 if it already has.
func (d *Document) TTL() time.Duration {
	ttl := time.Until(d.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// CanRevalidate reports whether the document carries a validator.
func (d *Document) CanRevalidate() bool {
	if d == nil {
		return false
	}
	return d.ETag != "" || !d.LastModified.IsZero()
}
