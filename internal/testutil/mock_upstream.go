// Package testutil provides a mock upstream site for tests.
package testutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Film is an item document fixture. Attribute values are strings or
// string slices.
type Film struct {
	Title      string         `json:"title,omitempty"`
	Year       int            `json:"year,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type listPage struct {
	Ranked bool     `json:"ranked"`
	Items  []string `json:"items"`
	Next   string   `json:"next,omitempty"`
}

// MockUpstream is a configurable mock of the upstream site. Fixture
// documents carry an ETag and answer matching conditional requests with 304.
type MockUpstream struct {
	server   *httptest.Server
	mu       sync.RWMutex
	docs     map[string][]byte
	handlers map[string]http.HandlerFunc
	hits     map[string]int

	requestCount     int
	conditionalCount int
	lastHeader       http.Header
	remaining        int
}

// NewMockUpstream starts a mock upstream server.
func NewMockUpstream() *MockUpstream {
	m := &MockUpstream{
		docs:      make(map[string][]byte),
		handlers:  make(map[string]http.HandlerFunc),
		hits:      make(map[string]int),
		remaining: 100,
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requestCount++
		m.hits[r.URL.Path]++
		m.lastHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			m.conditionalCount++
		}
		handler, custom := m.handlers[r.URL.Path]
		body, fixture := m.docs[r.URL.Path]
		remaining := m.remaining
		m.mu.Unlock()

		switch {
		case custom:
			handler(w, r)
		case fixture:
			serveDocument(w, r, body, remaining)
		default:
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": "not found"}`))
		}
	}))

	return m
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.conditionalCount = 0
	m.lastHeader = nil
	m.hits = make(map[string]int)
}

// SetRemaining sets the X-RateLimit-Remaining value reported on fixture responses.
func (m *MockUpstream) SetRemaining(remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = remaining
}

// SetHandler sets a custom handler for a path, taking precedence over fixtures.
func (m *MockUpstream) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockUpstream) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// AddFilm registers an item document at /film/{slug}/ and returns its reference.
func (m *MockUpstream) AddFilm(slug string, film Film) string {
	ref := "/film/" + slug + "/"
	m.setDocument(ref, film)
	return ref
}

// AddList registers a list owned by author, split into pages of pageSize
// references (0 means a single page). It returns the first page path.
func (m *MockUpstream) AddList(author, name string, ranked bool, refs []string, pageSize int) string {
	base := "/" + author + "/list/" + name + "/"
	if pageSize <= 0 || pageSize > len(refs) {
		pageSize = len(refs)
	}

	path := base
	for page := 1; ; page++ {
		n := min(pageSize, len(refs))
		doc := listPage{Ranked: ranked, Items: refs[:n]}
		if doc.Items == nil {
			doc.Items = []string{}
		}
		refs = refs[n:]
		next := fmt.Sprintf("%spage/%d/", base, page+1)
		if len(refs) > 0 {
			doc.Next = next
		}
		m.setDocument(path, doc)
		if len(refs) == 0 {
			break
		}
		path = next
	}
	return base
}

func (m *MockUpstream) setDocument(path string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal fixture %s: %v", path, err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[path] = body
}

// RequestCount returns the number of requests made to the server.
func (m *MockUpstream) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// ConditionalCount returns the number of conditional requests.
func (m *MockUpstream) ConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// Hits returns the number of requests made for path.
func (m *MockUpstream) Hits(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hits[path]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockUpstream) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

func serveDocument(w http.ResponseWriter, r *http.Request, body []byte, remaining int) {
	sum := sha256.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`

	w.Header().Set("X-RateLimit-Remaining", fmt.Sprint(remaining))
	w.Header().Set("X-RateLimit-Reset", "60")
	w.Header().Set("Cache-Control", "max-age=300")
	w.Header().Set("ETag", etag)

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  fmt.Sprint(retryAfter),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewBodyResponse creates a 200 response with an uncacheable body.
func NewBodyResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Cache-Control": "no-store",
			"Content-Type":  "application/json; charset=utf-8",
		},
	}
}
