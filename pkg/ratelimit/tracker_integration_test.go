//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func newTestTracker(client *redis.Client) *Tracker {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return NewTracker(client, "letterboxd.com", logger)
}

func budget(remaining, reset string) http.Header {
	h := http.Header{}
	h.Set(HeaderRemaining, remaining)
	h.Set(HeaderReset, reset)
	return h
}

func TestTracker_Integration_GetState(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	tracker := newTestTracker(redisClient)
	ctx := context.Background()

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 100 || !state.IsHealthy {
		t.Errorf("default state = %+v, want 100 remaining and healthy", state)
	}

	if err := tracker.UpdateFromResponse(ctx, budget("75", "120"), http.StatusOK); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	state, err = tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 75 {
		t.Errorf("Remaining = %d, want 75", state.Remaining)
	}
	if d := state.TimeUntilReset(); d < 118*time.Second || d > 120*time.Second {
		t.Errorf("TimeUntilReset = %v, want about 120s", d)
	}

	ttl, err := redisClient.TTL(ctx, KeyPrefix+"letterboxd.com").Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 2*time.Minute || ttl > 3*time.Minute {
		t.Errorf("state TTL = %v, want window plus a minute", ttl)
	}
}

func TestTracker_Integration_SharedBetweenInstances(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	first := newTestTracker(redisClient)
	second := newTestTracker(redisClient)

	if err := first.UpdateFromResponse(ctx, budget("2", "60"), http.StatusOK); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	allowed, err := second.Allow(ctx)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("second tracker should see the critical budget recorded by the first")
	}
}

func TestTracker_Integration_Allow(t *testing.T) {
	tests := []struct {
		name         string
		remaining    string
		wantAllowed  bool
		wantThrottle bool
	}{
		{name: "critical", remaining: "3", wantAllowed: false},
		{name: "warning", remaining: "15", wantAllowed: true, wantThrottle: true},
		{name: "healthy", remaining: "90", wantAllowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			redisClient, cleanup := setupRedis(t)
			defer cleanup()

			tracker := newTestTracker(redisClient)
			tracker.SetThrottleDelay(200 * time.Millisecond)
			ctx := context.Background()

			if err := tracker.UpdateFromResponse(ctx, budget(tt.remaining, "60"), http.StatusOK); err != nil {
				t.Fatalf("UpdateFromResponse() error = %v", err)
			}

			start := time.Now()
			allowed, err := tracker.Allow(ctx)
			elapsed := time.Since(start)

			if err != nil {
				t.Fatalf("Allow() error = %v", err)
			}
			if allowed != tt.wantAllowed {
				t.Errorf("Allow() = %v, want %v", allowed, tt.wantAllowed)
			}
			if tt.wantThrottle && elapsed < 180*time.Millisecond {
				t.Errorf("Allow() took %v, want throttling of about 200ms", elapsed)
			}
			if !tt.wantThrottle && elapsed > 150*time.Millisecond {
				t.Errorf("Allow() took %v, want no throttling", elapsed)
			}
		})
	}
}

func TestTracker_Integration_ThrottleHonoursContext(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	tracker := newTestTracker(redisClient)
	tracker.SetThrottleDelay(10 * time.Second)

	if err := tracker.UpdateFromResponse(context.Background(), budget("15", "60"), http.StatusOK); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	allowed, err := tracker.Allow(ctx)
	if allowed || err == nil {
		t.Errorf("Allow() = %v, %v, want false with context error", allowed, err)
	}
}

func TestTracker_Integration_TooManyRequests(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	tracker := newTestTracker(redisClient)
	ctx := context.Background()

	h := http.Header{}
	h.Set(HeaderRetryAfter, "2")
	if err := tracker.UpdateFromResponse(ctx, h, http.StatusTooManyRequests); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	if allowed, _ := tracker.Allow(ctx); allowed {
		t.Error("Allow() should refuse while the Retry-After window is open")
	}

	time.Sleep(2500 * time.Millisecond)

	if allowed, err := tracker.Allow(ctx); err != nil || !allowed {
		t.Errorf("Allow() after window = %v, %v, want true", allowed, err)
	}
}
