// Package server accepts TCP connections and hands each one to a session
// handler on its own goroutine.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var connectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rowstream_connections_accepted_total",
	Help: "Total TCP connections accepted",
})

// Handler serves one connection and closes it.
type Handler interface {
	Handle(ctx context.Context, conn net.Conn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn net.Conn)

// Handle calls f(ctx, conn).
func (f HandlerFunc) Handle(ctx context.Context, conn net.Conn) {
	f(ctx, conn)
}

// Server is the accept loop.
type Server struct {
	handler Handler
	logger  zerolog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	shutdown bool
	wg       sync.WaitGroup
}

// New creates a server.
func New(handler Handler, logger zerolog.Logger) *Server {
	if handler == nil {
		panic("handler cannot be nil")
	}
	return &Server{
		handler: handler,
		logger:  logger,
	}
}

// Shutdown stops the accept loop. Sessions already running complete.
// It may be called before Serve and from any goroutine.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shutdown = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Serve accepts connections on ln until ctx is cancelled or Shutdown is
// called, then closes ln and waits for running sessions. Sessions do not
// inherit ctx cancellation, so a stream in flight is finished rather than cut.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	if s.shutdown {
		cancel()
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Listening")

	sessionCtx := context.WithoutCancel(ctx)
	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Warn().Err(err).Msg("Accept timeout, retrying")
				time.Sleep(50 * time.Millisecond)
				continue
			}
			s.logger.Error().Err(err).Msg("Accept failed")
			acceptErr = err
			break
		}

		connectionsAccepted.Inc()
		s.wg.Add(1)
		go s.handle(sessionCtx, conn)
	}

	s.logger.Info().Msg("Accept loop stopped, waiting for sessions")
	s.wg.Wait()
	s.logger.Info().Msg("Server stopped")

	return acceptErr
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("remote_addr", conn.RemoteAddr().String()).
				Msg("Handler panicked, dropping connection")
			conn.Close()
		}
	}()

	s.handler.Handle(ctx, conn)
}
