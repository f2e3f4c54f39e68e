//go:build integration

package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/rowstream/internal/testutil"
	"github.com/Sternrassler/rowstream/pkg/protocol"
)

// setupRedis starts a Redis container and returns its address.
func setupRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err, "start Redis container")
	t.Cleanup(func() { redisC.Terminate(context.Background()) })

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return host + ":" + port.Port()
}

func TestIntegration_CachedStream(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	var refs []string
	for i := 0; i < 40; i++ {
		refs = append(refs, mock.AddFilm(fmt.Sprintf("f%d", i), testutil.Film{
			Title:      fmt.Sprintf("Film %d", i),
			Year:       1980 + i,
			Attributes: map[string]any{"genre": []string{"Drama", "Crime"}},
		}))
	}
	mock.AddList("dave", "forty", false, refs, 15)

	cfg := testConfig(mock)
	cfg.Redis.Addr = setupRedis(t)
	addr, errCh := startServer(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req := &protocol.Request{AuthorUser: "dave", ListName: "forty", Attrs: []string{"genre"}}

	var first bytes.Buffer
	require.NoError(t, fetchList(ctx, addr, req, &first))
	lines := strings.Split(strings.TrimSuffix(first.String(), "\n"), "\n")
	require.Len(t, lines, 41)
	require.Equal(t, "Title,Year,Genre", lines[0])
	require.Equal(t, `"Film 39",2019,"Drama; Crime"`, lines[40])

	requests := mock.RequestCount()
	require.Equal(t, 43, requests, "3 list pages and 40 films")

	var second bytes.Buffer
	require.NoError(t, fetchList(ctx, addr, req, &second))
	require.Equal(t, first.String(), second.String())
	require.Equal(t, requests, mock.RequestCount(), "second stream should be served from the cache")

	sendShutdown(t, addr)
	require.NoError(t, <-errCh)
}

func TestIntegration_RateLimitBlocksStream(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	mock.SetRemaining(1)
	refs := []string{
		mock.AddFilm("a", testutil.Film{Title: "A"}),
		mock.AddFilm("b", testutil.Film{Title: "B"}),
	}
	mock.AddList("dave", "two", true, refs, 0)

	cfg := testConfig(mock)
	cfg.Redis.Addr = setupRedis(t)
	addr, errCh := startServer(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// The list page reports a critical budget, so every item fetch is refused.
	err := fetchList(ctx, addr, &protocol.Request{AuthorUser: "dave", ListName: "two", Attrs: []string{"none"}}, &bytes.Buffer{})
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), string(protocol.TagBadGateway)), err.Error())
	require.Zero(t, mock.Hits(refs[0])+mock.Hits(refs[1]))

	sendShutdown(t, addr)
	require.NoError(t, <-errCh)
}
