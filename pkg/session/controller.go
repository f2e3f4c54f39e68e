// Package session runs the per-connection protocol: read one request,
// validate it, stream the rows in list order and always finish with the
// terminal marker.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/rowstream/pkg/pipeline"
	"github.com/Sternrassler/rowstream/pkg/protocol"
	"github.com/Sternrassler/rowstream/pkg/record"
	"github.com/Sternrassler/rowstream/pkg/validate"
)

// ErrEmptyList indicates a list that resolved to zero items.
var ErrEmptyList = errors.New("list has no items")

// Upstream resolves lists and builds row fetchers for them.
type Upstream interface {
	// ListItems resolves a request into item references.
	// A list that does not exist returns record.ErrNotFound.
	ListItems(ctx context.Context, req *protocol.Request) (*record.Listing, error)

	// RowFetcher returns a fetcher producing rows with the given fields.
	RowFetcher(fields []string) pipeline.RowFetcher
}

// Config holds session configuration.
type Config struct {
	// MaxRequestBytes bounds the inbound request (default: 2048)
	MaxRequestBytes int64

	// ReadTimeout bounds the wait for the request (0 waits forever)
	ReadTimeout time.Duration

	// WriteTimeout bounds each frame write; a peer that stops reading fails
	// the stream once it expires (0 waits forever)
	WriteTimeout time.Duration

	// Pipeline configures the fetch pipeline of each session
	Pipeline pipeline.Config
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		MaxRequestBytes: protocol.DefaultMaxRequestBytes,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		Pipeline:        pipeline.DefaultConfig(),
	}
}

// Controller handles connections, one session per connection.
type Controller struct {
	upstream  Upstream
	validator *validate.Validator
	config    Config
	logger    zerolog.Logger

	mu         sync.Mutex
	onShutdown func()
}

// NewController creates a session controller.
func NewController(upstream Upstream, validator *validate.Validator, config Config, logger zerolog.Logger) *Controller {
	if upstream == nil {
		panic("upstream cannot be nil")
	}
	if validator == nil {
		validator = validate.New(nil, validate.DefaultMaxItems)
	}
	if config.MaxRequestBytes <= 0 {
		config.MaxRequestBytes = protocol.DefaultMaxRequestBytes
	}

	return &Controller{
		upstream:  upstream,
		validator: validator,
		config:    config,
		logger:    logger,
	}
}

// OnShutdown registers fn to run when a client sends the shutdown directive.
func (c *Controller) OnShutdown(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onShutdown = fn
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	fn := c.onShutdown
	c.mu.Unlock()

	if fn == nil {
		c.logger.Warn().Msg("Shutdown directive received but no shutdown hook is registered")
		return
	}
	fn()
}

// session is the state of one connection.
type session struct {
	conn      net.Conn
	enc       *protocol.Encoder
	logger    zerolog.Logger
	state     State
	countSent bool
	outcome   string
}

// Handle runs one session on conn and closes it. The terminal marker is
// written on every path, including a recovered panic.
func (c *Controller) Handle(ctx context.Context, conn net.Conn) {
	start := time.Now()
	logger := c.logger.With().
		Str("session_id", uuid.NewString()).
		Str("remote_addr", conn.RemoteAddr().String()).
		Logger()

	var out io.Writer = conn
	if c.config.WriteTimeout > 0 {
		out = &deadlineWriter{conn: conn, timeout: c.config.WriteTimeout}
	}

	s := &session{
		conn:    conn,
		enc:     protocol.NewEncoder(out, logger),
		logger:  logger,
		state:   StateAwaitingRequest,
		outcome: outcomeSuccess,
	}

	sessionsActive.Inc()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Session panicked")
			s.outcome = outcomePanic
			s.fail(protocol.TagInternal, fmt.Errorf("%w: %v", pipeline.ErrInternal, r))
		}

		s.close()

		sessionsActive.Dec()
		sessionsTotal.WithLabelValues(s.outcome).Inc()
		sessionDuration.Observe(time.Since(start).Seconds())

		s.logger.Info().
			Str("outcome", s.outcome).
			Dur("duration", time.Since(start)).
			Msg("Session closed")
	}()

	c.serve(ctx, s)
}

func (c *Controller) serve(ctx context.Context, s *session) {
	req, err := c.readRequest(s)
	if err != nil {
		s.transition(StateRejectedEarly)
		s.outcome = outcomeRejected
		s.fail(protocol.TagUnprocessable, err)
		return
	}

	switch req.Kind() {
	case protocol.KindProbe:
		s.outcome = outcomeProbe
		s.logger.Debug().Msg("Answering health probe")
		_ = s.enc.SendLine(protocol.HealthReply)
		return
	case protocol.KindShutdown:
		s.outcome = outcomeShutdown
		s.logger.Info().Msg("Shutdown directive received")
		c.shutdown()
		return
	}

	s.logger = s.logger.With().
		Str("author_user", req.AuthorUser).
		Str("list_name", req.ListName).
		Logger()

	s.transition(StateValidating)
	fields, listing, err := c.validateRequest(ctx, req)
	if err != nil {
		s.transition(StateRejectedEarly)
		tag := rejectTag(err)
		s.outcome = outcomeFor(tag)
		s.logger.Info().Err(err).Str("tag", string(tag)).Msg("Request rejected")
		s.fail(tag, err)
		return
	}

	s.transition(StateDispatching)
	items := listing.Items()
	if err := s.enc.SendCount(uint16(len(items))); err != nil {
		s.outcome = outcomeWriteFailed
		return
	}
	s.countSent = true

	if err := s.enc.SendLine(record.Header(fields, listing.Ranked)); err != nil {
		s.failStream(err)
		return
	}

	s.transition(StateStreaming)
	p := pipeline.New(c.upstream.RowFetcher(fields), c.config.Pipeline, s.logger)
	err = p.Run(ctx, items, func(row record.Row) error {
		return s.enc.SendLine(row.Line())
	})
	if err != nil {
		s.failStream(err)
		return
	}

	s.logger.Info().Int("rows", len(items)).Msg("Stream complete")
}

func (c *Controller) readRequest(s *session) (*protocol.Request, error) {
	if c.config.ReadTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err == nil {
			defer s.conn.SetReadDeadline(time.Time{})
		}
	}

	req, err := protocol.ReadRequest(s.conn, c.config.MaxRequestBytes)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Could not read request")
		return nil, err
	}

	s.logger.Debug().Str("kind", req.Kind().String()).Msg("Request received")
	return req, nil
}

// deadlineWriter moves the connection's write deadline forward before every
// write, so a stalled peer fails the current frame instead of blocking it.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return 0, err
	}
	return w.conn.Write(p)
}

// validateRequest checks the fields, resolves the list and checks its size,
// in that order. Nothing is written to the peer here.
func (c *Controller) validateRequest(ctx context.Context, req *protocol.Request) ([]string, *record.Listing, error) {
	fields, err := c.validator.Fields(req.Attrs)
	if err != nil {
		return nil, nil, err
	}

	listing, err := c.upstream.ListItems(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve list %s/%s: %w", req.AuthorUser, req.ListName, err)
	}
	if len(listing.Refs) == 0 {
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrEmptyList, req.AuthorUser, req.ListName)
	}

	if err := c.validator.Count(len(listing.Refs), listing.Truncated); err != nil {
		return nil, nil, err
	}
	if len(listing.Refs) > math.MaxUint16 {
		return nil, nil, fmt.Errorf("%w: %d items do not fit the count frame", pipeline.ErrInternal, len(listing.Refs))
	}

	return fields, listing, nil
}

// failStream reports a failure after the count went out.
func (s *session) failStream(err error) {
	if errors.Is(err, protocol.ErrWriteFailed) {
		s.outcome = outcomeWriteFailed
		return
	}

	tag := streamTag(err)
	s.outcome = outcomeFor(tag)
	s.logger.Warn().Err(err).Str("tag", string(tag)).Msg("Stream aborted")
	s.fail(tag, err)
}

// fail sends one tagged error line, preceded by a zero count when no count
// has been sent yet. Write failures are already logged by the encoder.
func (s *session) fail(tag protocol.Tag, err error) {
	if !s.countSent {
		if s.enc.SendCount(0) != nil {
			return
		}
		s.countSent = true
	}
	_ = s.enc.SendLine(protocol.ErrorLine(tag, err))
}

func (s *session) close() {
	s.transition(StateClosing)
	_ = s.enc.SendLine(protocol.TerminalMarker)

	if err := s.conn.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("Close connection")
	}
	if s.enc.Err() != nil && s.outcome == outcomeSuccess {
		s.outcome = outcomeWriteFailed
	}
	s.transition(StateClosed)
}

func (s *session) transition(to State) {
	s.logger.Debug().
		Stringer("from", s.state).
		Stringer("to", to).
		Msg("Session state")
	s.state = to
}

// rejectTag maps a failure before the count to its error tag.
func rejectTag(err error) protocol.Tag {
	switch {
	case errors.Is(err, validate.ErrTooManyItems):
		return protocol.TagTooManyItems
	case errors.Is(err, validate.ErrInvalidField),
		errors.Is(err, protocol.ErrMalformedRequest),
		errors.Is(err, record.ErrNotFound),
		errors.Is(err, ErrEmptyList):
		return protocol.TagUnprocessable
	case errors.Is(err, pipeline.ErrInternal):
		return protocol.TagInternal
	default:
		return protocol.TagBadGateway
	}
}

// streamTag maps a failure after the count to its error tag.
func streamTag(err error) protocol.Tag {
	var fetchErr *pipeline.FetchError
	if errors.As(err, &fetchErr) {
		return protocol.TagBadGateway
	}
	return protocol.TagInternal
}

func outcomeFor(tag protocol.Tag) string {
	switch tag {
	case protocol.TagBadGateway:
		return outcomeUpstream
	case protocol.TagInternal:
		return outcomeInternal
	default:
		return outcomeRejected
	}
}
