// Package ratelimit gates upstream requests on the rate-limit budget the
// upstream announces in its X-RateLimit-Remaining and X-RateLimit-Reset
// headers. The budget is kept in Redis so every rowstream instance sharing
// an upstream host sees the same numbers.
package ratelimit

import (
	"time"
)

// KeyPrefix namespaces the Redis hash holding a host's state.
const KeyPrefix = "rowstream:ratelimit:"

// Response headers read by the tracker.
const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Thresholds on the remaining request budget.
const (
	// ThresholdCritical blocks requests below this many remaining.
	ThresholdCritical = 5

	// ThresholdWarning throttles requests below this many remaining.
	ThresholdWarning = 20

	// ThresholdHealthy marks the budget healthy at or above this many remaining.
	ThresholdHealthy = 50
)

// State is the last budget announced by the upstream.
type State struct {
	// Remaining is the number of requests left in the current window
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the state was recorded
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is Remaining >= ThresholdHealthy
	IsHealthy bool `json:"is_healthy"`
}

// defaultState is assumed until the upstream reports real numbers.
func defaultState(now time.Time) *State {
	return &State{
		Remaining:  100,
		ResetAt:    now.Add(60 * time.Second),
		LastUpdate: now,
		IsHealthy:  true,
	}
}

// IsStale reports whether the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// WindowOver reports whether the reset time has passed, which restores the
// full budget.
func (s *State) WindowOver() bool {
	return !time.Now().Before(s.ResetAt)
}

// NeedsCriticalBlock reports whether requests must be refused.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && !s.WindowOver()
}

// NeedsThrottling reports whether requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock() && !s.WindowOver()
}

// TimeUntilReset returns the time until the window resets, 0 if it has.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes IsHealthy.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
