package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultThrottleDelay is the pause before a request in the warning band.
const DefaultThrottleDelay = 1 * time.Second

// Prometheus metrics for rate limit tracking.
var (
	requestsRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rowstream_upstream_ratelimit_remaining",
		Help: "Requests remaining in the upstream rate-limit window",
	}, []string{"host"})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rowstream_ratelimit_blocks_total",
		Help: "Total requests refused because the upstream budget is critical",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rowstream_ratelimit_throttles_total",
		Help: "Total requests delayed because the upstream budget is low",
	})
)

// Redis hash fields.
const (
	fieldRemaining  = "remaining"
	fieldResetAt    = "reset_at"
	fieldLastUpdate = "last_update"
)

// Tracker keeps the rate-limit state of one upstream host and gates
// requests on it.
type Tracker struct {
	redis    redis.UniversalClient
	host     string
	key      string
	throttle time.Duration
	logger   zerolog.Logger
}

// NewTracker creates a tracker for host.
func NewTracker(redisClient redis.UniversalClient, host string, logger zerolog.Logger) *Tracker {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Tracker{
		redis:    redisClient,
		host:     host,
		key:      KeyPrefix + strings.ToLower(host),
		throttle: DefaultThrottleDelay,
		logger:   logger.With().Str("upstream_host", host).Logger(),
	}
}

// SetThrottleDelay changes the pause applied in the warning band.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttle = d
}

// GetState returns the stored state, or a healthy default if there is none.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	fields, err := t.redis.HGetAll(ctx, t.key).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	if len(fields) == 0 {
		t.logger.Debug().Msg("No rate limit state in Redis, assuming healthy")
		return defaultState(time.Now()), nil
	}

	remaining, err := strconv.Atoi(fields[fieldRemaining])
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	resetAt, err := strconv.ParseInt(fields[fieldResetAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse reset_at: %w", err)
	}
	lastUpdate, err := strconv.ParseInt(fields[fieldLastUpdate], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse last_update: %w", err)
	}

	state := &State{
		Remaining:  remaining,
		ResetAt:    time.Unix(resetAt, 0),
		LastUpdate: time.Unix(0, lastUpdate),
	}
	state.UpdateHealth()
	return state, nil
}

// ParseHeaders extracts the budget from a response. It returns false when
// the response carries no rate-limit information. A 429 with Retry-After
// counts as an exhausted budget until the retry time.
func ParseHeaders(headers http.Header, status int, now time.Time) (*State, bool, error) {
	if status == http.StatusTooManyRequests {
		if ra := headers.Get(HeaderRetryAfter); ra != "" {
			resetAt, err := parseRetryAfter(ra, now)
			if err != nil {
				return nil, false, err
			}
			state := &State{Remaining: 0, ResetAt: resetAt, LastUpdate: now}
			state.UpdateHealth()
			return state, true, nil
		}
	}

	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil, false, nil
	}
	remaining, err := strconv.Atoi(remainStr)
	if err != nil {
		return nil, false, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return nil, false, fmt.Errorf("%s header missing", HeaderReset)
	}
	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return nil, false, fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	state := &State{
		Remaining:  remaining,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth()
	return state, true, nil
}

func parseRetryAfter(val string, now time.Time) (time.Time, error) {
	if secs, err := strconv.Atoi(val); err == nil {
		return now.Add(time.Duration(secs) * time.Second), nil
	}
	if t, err := http.ParseTime(val); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("parse %s header: %q", HeaderRetryAfter, val)
}

// UpdateFromResponse records the budget carried by a response, if any.
func (t *Tracker) UpdateFromResponse(ctx context.Context, headers http.Header, status int) error {
	state, ok, err := ParseHeaders(headers, status, time.Now())
	if err != nil || !ok {
		return err
	}

	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, t.key,
		fieldRemaining, state.Remaining,
		fieldResetAt, state.ResetAt.Unix(),
		fieldLastUpdate, state.LastUpdate.UnixNano(),
	)
	// State outlives its window by a minute, then the default applies again.
	pipe.Expire(ctx, t.key, state.TimeUntilReset()+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	requestsRemaining.WithLabelValues(t.host).Set(float64(state.Remaining))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Upstream rate limit CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Upstream rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("Upstream rate limit state updated")
	}

	return nil
}

// Allow reports whether a request may go out now. In the warning band it
// waits for the throttle delay first and gives up if ctx ends meanwhile.
func (t *Tracker) Allow(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, err
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Upstream rate limit critical - blocking request")
		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() && t.throttle > 0 {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("delay", t.throttle).
			Msg("Upstream rate limit warning - throttling request")
		rateLimitThrottlesTotal.Inc()

		timer := time.NewTimer(t.throttle)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	return true, nil
}
