package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseHeaders(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		headers     map[string]string
		status      int
		wantOK      bool
		wantErr     bool
		wantRemain  int
		wantReset   time.Time
		wantHealthy bool
	}{
		{
			name:        "healthy budget",
			headers:     map[string]string{HeaderRemaining: "90", HeaderReset: "60"},
			status:      200,
			wantOK:      true,
			wantRemain:  90,
			wantReset:   now.Add(60 * time.Second),
			wantHealthy: true,
		},
		{
			name:       "warning budget",
			headers:    map[string]string{HeaderRemaining: "15", HeaderReset: "30"},
			status:     200,
			wantOK:     true,
			wantRemain: 15,
			wantReset:  now.Add(30 * time.Second),
		},
		{
			name:    "no rate limit headers",
			headers: map[string]string{},
			status:  200,
		},
		{
			name:    "reset missing",
			headers: map[string]string{HeaderRemaining: "15"},
			status:  200,
			wantErr: true,
		},
		{
			name:    "remaining not a number",
			headers: map[string]string{HeaderRemaining: "lots", HeaderReset: "30"},
			status:  200,
			wantErr: true,
		},
		{
			name:       "429 with retry-after seconds",
			headers:    map[string]string{HeaderRetryAfter: "120"},
			status:     http.StatusTooManyRequests,
			wantOK:     true,
			wantRemain: 0,
			wantReset:  now.Add(120 * time.Second),
		},
		{
			name:       "429 with retry-after date",
			headers:    map[string]string{HeaderRetryAfter: now.Add(time.Hour).Format(http.TimeFormat)},
			status:     http.StatusTooManyRequests,
			wantOK:     true,
			wantRemain: 0,
			wantReset:  now.Add(time.Hour),
		},
		{
			name:    "429 with bad retry-after",
			headers: map[string]string{HeaderRetryAfter: "soon"},
			status:  http.StatusTooManyRequests,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			for k, v := range tt.headers {
				headers.Set(k, v)
			}

			state, ok, err := ParseHeaders(headers, tt.status, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHeaders() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Fatalf("ParseHeaders() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}

			if state.Remaining != tt.wantRemain {
				t.Errorf("Remaining = %d, want %d", state.Remaining, tt.wantRemain)
			}
			if !state.ResetAt.Equal(tt.wantReset) {
				t.Errorf("ResetAt = %v, want %v", state.ResetAt, tt.wantReset)
			}
			if state.IsHealthy != tt.wantHealthy {
				t.Errorf("IsHealthy = %v, want %v", state.IsHealthy, tt.wantHealthy)
			}
		})
	}
}

func TestNewTracker_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewTracker should panic with nil redis client")
		}
	}()
	NewTracker(nil, "letterboxd.com", zerolog.Nop())
}
