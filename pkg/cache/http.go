package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTTL applies when a response says nothing about its freshness
	DefaultTTL = 5 * time.Minute
)

// FromResponse reads resp into a Document. The body is consumed and
// replaced with an in-memory copy, so the caller can still read it.
func FromResponse(resp *http.Response) (*Document, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	doc := &Document{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
		Expires:     expiresFrom(resp.Header, time.Now()),
		StoredAt:    time.Now(),
	}

	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		if t, err := http.ParseTime(lastMod); err == nil {
			doc.LastModified = t
		}
	}

	return doc, nil
}

// ExpiresFrom returns the expiry announced by headers, relative to now.
func ExpiresFrom(headers http.Header) time.Time {
	return expiresFrom(headers, time.Now())
}

// expiresFrom reads Cache-Control before Expires. no-store and no-cache
// make the document stale at once; no freshness information at all falls
// back to DefaultTTL.
func expiresFrom(headers http.Header, now time.Time) time.Time {
	if cc := headers.Get("Cache-Control"); cc != "" {
		for _, directive := range strings.Split(cc, ",") {
			directive = strings.ToLower(strings.TrimSpace(directive))
			switch {
			case directive == "no-store", directive == "no-cache":
				return now
			case strings.HasPrefix(directive, "max-age="):
				if secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age=")); err == nil && secs >= 0 {
					return now.Add(time.Duration(secs) * time.Second)
				}
			}
		}
	}

	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return now.Add(DefaultTTL)
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return now.Add(DefaultTTL)
	}
	if expires.Before(now) {
		return now
	}
	return expires
}

// AddConditionalHeaders sets If-None-Match, or If-Modified-Since when the
// document has no ETag.
func AddConditionalHeaders(req *http.Request, doc *Document) {
	if req == nil || doc == nil {
		return
	}

	if doc.ETag != "" {
		req.Header.Set("If-None-Match", doc.ETag)
	} else if !doc.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", doc.LastModified.UTC().Format(http.TimeFormat))
	}
}
