package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/rs/zerolog"
)

const (
	// SizeBytes is the width of every length or count prefix.
	SizeBytes = 2

	// MaxPayload is the largest line payload a frame can carry.
	MaxPayload = math.MaxUint16

	// TerminalMarker is the payload of the last frame of every session.
	TerminalMarker = "done!"

	// HealthReply answers the liveness probe.
	HealthReply = "yep, still healthy!"
)

var (
	// ErrFrameTooLarge indicates a line whose UTF-8 encoding exceeds MaxPayload bytes
	ErrFrameTooLarge = errors.New("frame payload exceeds 65535 bytes")

	// ErrWriteFailed indicates the peer could not be written to
	ErrWriteFailed = errors.New("frame write failed")
)

// Encoder writes count and line frames to a peer.
type Encoder struct {
	w      io.Writer
	logger zerolog.Logger
	err    error
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer, logger zerolog.Logger) *Encoder {
	return &Encoder{
		w:      w,
		logger: logger,
	}
}

// SendCount writes the 2-byte item count.
func (e *Encoder) SendCount(n uint16) error {
	var buf [SizeBytes]byte
	binary.BigEndian.PutUint16(buf[:], n)

	e.logger.Debug().Uint16("count", n).Msg("Sending total count")
	return e.write("count", buf[:])
}

// SendLine writes one length-prefixed line.
// Lines over MaxPayload bytes are rejected with ErrFrameTooLarge and nothing
// is written, so the stream stays well formed.
func (e *Encoder) SendLine(s string) error {
	if len(s) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(s))
	}

	// One buffer, one Write: a frame is never split by a concurrent failure.
	buf := make([]byte, SizeBytes+len(s))
	binary.BigEndian.PutUint16(buf, uint16(len(s)))
	copy(buf[SizeBytes:], s)

	e.logger.Debug().Int("bytes", len(s)).Msg("Sending line")
	return e.write("line", buf)
}

// Err returns the first write failure, if any.
func (e *Encoder) Err() error {
	return e.err
}

func (e *Encoder) write(kind string, buf []byte) error {
	if e.err != nil {
		return e.err
	}

	if _, err := e.w.Write(buf); err != nil {
		e.err = fmt.Errorf("%w: %v", ErrWriteFailed, err)
		WriteErrors.Inc()
		e.logger.Warn().Err(err).Str("kind", kind).Msg("Could not write frame, skipping remaining frames")
		return e.err
	}

	FramesWritten.WithLabelValues(kind).Inc()
	FrameBytesWritten.Add(float64(len(buf)))
	return nil
}
