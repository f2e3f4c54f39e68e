// Package upstream fetches list and item documents from the upstream site,
// with optional Redis-backed caching and rate-limit gating.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/rowstream/pkg/cache"
	"github.com/Sternrassler/rowstream/pkg/ratelimit"
	"github.com/Sternrassler/rowstream/pkg/record"
)

// Client is the upstream HTTP client.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the upstream site, e.g. "https://letterboxd.com"
	BaseURL string

	// UserAgent sent with every request (required)
	UserAgent string

	// Timeout bounds a single HTTP request
	Timeout time.Duration

	// MaxBodyBytes caps a response body
	MaxBodyBytes int64

	// MaxListItems stops following list pages once this many refs are known.
	// Set it above the validator ceiling so oversize lists are still detected.
	MaxListItems int

	// Redis enables the document cache and rate-limit gate (optional)
	Redis redis.UniversalClient

	// CacheMaxTTL caps how long documents are cached
	CacheMaxTTL time.Duration

	// ThrottleDelay is the pause applied when the rate-limit budget is low
	ThrottleDelay time.Duration
}

// DefaultConfig returns a default configuration without Redis.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:       baseURL,
		UserAgent:     userAgent,
		Timeout:       30 * time.Second,
		MaxBodyBytes:  4 << 20,
		MaxListItems:  10001,
		CacheMaxTTL:   cache.DefaultMaxTTL,
		ThrottleDelay: ratelimit.DefaultThrottleDelay,
	}
}

// New creates an upstream client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	if cfg.MaxListItems <= 0 {
		cfg.MaxListItems = 10001
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		config:  cfg,
		logger:  logger,
	}

	if cfg.Redis != nil {
		c.rateLimiter = ratelimit.NewTracker(cfg.Redis, base.Host, logger)
		if cfg.ThrottleDelay > 0 {
			c.rateLimiter.SetThrottleDelay(cfg.ThrottleDelay)
		}
		c.cache = cache.NewManager(cfg.Redis, cfg.CacheMaxTTL)
	} else {
		logger.Info().Msg("No Redis configured, upstream requests are uncached and ungated")
	}

	return c, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// resolve turns a site-relative reference into an absolute URL.
func (c *Client) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: bad reference %q: %v", ErrMalformedDocument, ref, err)
	}
	return c.baseURL.ResolveReference(u), nil
}

// get returns the body of the document at u, from the cache when it is
// fresh, revalidating it when it is stale.
func (c *Client) get(ctx context.Context, kind string, u *url.URL) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(kind).Observe(time.Since(startTime).Seconds())
	}()
	target := u.String()

	// Step 1: rate-limit gate
	if c.rateLimiter != nil {
		allowed, err := c.rateLimiter.Allow(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn().Err(err).Msg("Rate limit check failed, sending request anyway")
		} else if !allowed {
			requestsTotal.WithLabelValues(kind, "rate_limited").Inc()
			errorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			return nil, &UpstreamError{
				Class:   ErrorClassRateLimit,
				URL:     target,
				Message: "request blocked",
				Err:     ErrRateLimited,
			}
		}
	}

	// Step 2: cache
	var key cache.Key
	var cached *cache.Document
	if c.cache != nil {
		key = cache.KeyFor(u)
		doc, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			c.logger.Debug().Str("url", target).Msg("Cache hit")
			requestsTotal.WithLabelValues(kind, "cached").Inc()
			return doc.Body, nil
		case errors.Is(err, cache.ErrCacheMiss):
			cached = doc
		default:
			c.logger.Warn().Err(err).Str("url", target).Msg("Cache get error")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	if cached.CanRevalidate() {
		cache.AddConditionalHeaders(req, cached)
		c.logger.Debug().
			Str("url", target).
			Str("etag", cached.ETag).
			Msg("Making conditional request")
	}

	// Step 3: request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(kind, "network_error").Inc()
		c.logger.Warn().Err(err).Str("url", target).Msg("Upstream request failed")
		return nil, &UpstreamError{
			Class:   ErrorClassNetwork,
			URL:     target,
			Message: "request failed",
			Err:     err,
		}
	}
	body := resp.Body
	defer body.Close()
	resp.Body = io.NopCloser(io.LimitReader(body, c.config.MaxBodyBytes))

	requestsTotal.WithLabelValues(kind, strconv.Itoa(resp.StatusCode)).Inc()

	if c.rateLimiter != nil {
		if err := c.rateLimiter.UpdateFromResponse(ctx, resp.Header, resp.StatusCode); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	// Step 4: 304 reuses the cached copy
	if resp.StatusCode == http.StatusNotModified && cached != nil {
		cache.Revalidations.WithLabelValues("not_modified").Inc()
		c.logger.Debug().Str("url", target).Msg("304 Not Modified - using cache")
		if err := c.cache.Refresh(ctx, key, cached, cache.ExpiresFrom(resp.Header)); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh cached document")
		}
		return cached.Body, nil
	}

	if class := classifyStatus(resp.StatusCode); class != "" || resp.StatusCode != http.StatusOK {
		if class == "" {
			class = ErrorClassServer
		}
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("url", target).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request error")

		upErr := &UpstreamError{
			StatusCode: resp.StatusCode,
			Class:      class,
			URL:        target,
			Message:    resp.Status,
		}
		if resp.StatusCode == http.StatusNotFound {
			upErr.Err = record.ErrNotFound
		}
		return nil, upErr
	}

	// Step 5: store
	doc, err := cache.FromResponse(resp)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			URL:        target,
			Message:    "read body",
			Err:        err,
		}
	}

	if c.cache != nil {
		if cached != nil {
			cache.Revalidations.WithLabelValues("changed").Inc()
		}
		if err := c.cache.Set(ctx, key, doc); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache document")
		} else {
			c.logger.Debug().
				Str("url", target).
				Dur("ttl", doc.TTL()).
				Msg("Cached document")
		}
	}

	return doc.Body, nil
}

