package server

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Sternrassler/rowstream/pkg/pipeline"
	"github.com/Sternrassler/rowstream/pkg/protocol"
	"github.com/Sternrassler/rowstream/pkg/record"
	"github.com/Sternrassler/rowstream/pkg/session"
	"github.com/Sternrassler/rowstream/pkg/validate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func serveAsync(ctx context.Context, srv *Server, ln net.Listener) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()
	return errCh
}

func waitServe(t *testing.T, errCh <-chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	ln := listen(t)
	srv := New(HandlerFunc(func(ctx context.Context, conn net.Conn) { conn.Close() }), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, srv, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.Close()

	cancel()
	waitServe(t, errCh)

	_, err = net.Dial("tcp", ln.Addr().String())
	require.Error(t, err, "listener should be closed")
}

func TestServe_WaitsForRunningSessions(t *testing.T) {
	ln := listen(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	srv := New(HandlerFunc(func(ctx context.Context, conn net.Conn) {
		defer conn.Close()
		close(started)
		<-release
		// Sessions keep running after the accept loop is cancelled.
		if ctx.Err() == nil {
			finished.Store(true)
		}
	}), zerolog.Nop())

	errCh := serveAsync(context.Background(), srv, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	<-started

	srv.Shutdown()

	select {
	case <-errCh:
		t.Fatal("Serve returned while a session was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	waitServe(t, errCh)
	require.True(t, finished.Load())
}

func TestServe_SurvivesHandlerPanic(t *testing.T) {
	ln := listen(t)
	var calls atomic.Int32

	srv := New(HandlerFunc(func(ctx context.Context, conn net.Conn) {
		if calls.Add(1) == 1 {
			panic("session exploded")
		}
		conn.Write([]byte("ok"))
		conn.Close()
	}), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, srv, ln)

	first, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = first.Read(buf)
	require.Error(t, err, "panicking handler's connection should be dropped")
	first.Close()

	second, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	_, err = second.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ok", string(buf))
	second.Close()

	cancel()
	waitServe(t, errCh)
}

func TestServe_ShutdownBeforeServe(t *testing.T) {
	ln := listen(t)
	srv := New(HandlerFunc(func(ctx context.Context, conn net.Conn) { conn.Close() }), zerolog.Nop())

	srv.Shutdown()
	waitServe(t, serveAsync(context.Background(), srv, ln))
}

// staticUpstream serves one three-item list.
type staticUpstream struct{}

func (staticUpstream) ListItems(ctx context.Context, req *protocol.Request) (*record.Listing, error) {
	return &record.Listing{Refs: []string{"/film/a/", "/film/b/", "/film/c/"}, Ranked: true}, nil
}

func (staticUpstream) RowFetcher(fields []string) pipeline.RowFetcher {
	return pipeline.FetchFunc(func(ctx context.Context, item record.Item) (record.Row, error) {
		return record.NewRow(item, item.SourceRef, "2001", nil), nil
	})
}

func TestServe_EndToEnd(t *testing.T) {
	ln := listen(t)
	ctrl := session.NewController(staticUpstream{}, validate.New(nil, 0), session.DefaultConfig(), zerolog.Nop())
	srv := New(ctrl, zerolog.Nop())
	ctrl.OnShutdown(srv.Shutdown)

	errCh := serveAsync(context.Background(), srv, ln)
	addr := ln.Addr().String()

	t.Run("probe", func(t *testing.T) {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, protocol.WriteRequest(conn, &protocol.Request{Msg: protocol.ProbeMessage}))
		lines, err := protocol.ReadReply(conn)
		require.NoError(t, err)
		require.Equal(t, []string{protocol.HealthReply}, lines)
	})

	t.Run("list", func(t *testing.T) {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		defer conn.Close()

		req := &protocol.Request{ListName: "films", AuthorUser: "bob", Attrs: []string{"none"}}
		require.NoError(t, protocol.WriteRequest(conn, req))

		stream, err := protocol.ReadStream(conn)
		require.NoError(t, err)
		require.True(t, stream.Terminated)
		require.EqualValues(t, 3, stream.Count)
		require.Equal(t, []string{
			"Rank,Title,Year",
			`1,"/film/a/",2001`,
			`2,"/film/b/",2001`,
			`3,"/film/c/",2001`,
		}, stream.Lines)
	})

	t.Run("shutdown directive", func(t *testing.T) {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, protocol.WriteRequest(conn, &protocol.Request{Msg: protocol.ShutdownMessage}))
		_, err = protocol.ReadReply(conn)
		require.NoError(t, err)
	})

	waitServe(t, errCh)
}
