package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// ErrInvalidUTF8 indicates a line payload that is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("line payload is not valid utf-8")

// Reader decodes frames written by an Encoder.
type Reader struct {
	r io.Reader
}

// NewReader creates a frame reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadCount reads the 2-byte item count.
func (r *Reader) ReadCount() (uint16, error) {
	var buf [SizeBytes]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, fmt.Errorf("read count: %w", err)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// ReadLine reads one length-prefixed line.
func (r *Reader) ReadLine() (string, error) {
	var buf [SizeBytes]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return "", fmt.Errorf("read line length: %w", err)
	}

	payload := make([]byte, binary.BigEndian.Uint16(buf[:]))
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return "", fmt.Errorf("read line payload: %w", err)
	}

	if !utf8.Valid(payload) {
		return "", ErrInvalidUTF8
	}
	return string(payload), nil
}

// Stream is a fully decoded session response.
type Stream struct {
	// Count is the item count announced by the server
	Count uint16

	// Lines holds every line before the terminal marker: the header and
	// rows on success, or a single tagged error line
	Lines []string

	// Terminated reports whether the terminal marker was received
	Terminated bool
}

// Header returns the header line of a successful stream.
func (s *Stream) Header() string {
	if s.Count == 0 || len(s.Lines) == 0 {
		return ""
	}
	return s.Lines[0]
}

// Rows returns the data lines of a stream, without the header.
func (s *Stream) Rows() []string {
	if s.Count == 0 || len(s.Lines) == 0 {
		return nil
	}
	return s.Lines[1:]
}

// Failure returns the tagged error line of a stream, if there is one.
func (s *Stream) Failure() (string, bool) {
	if len(s.Lines) == 0 {
		return "", false
	}
	last := s.Lines[len(s.Lines)-1]
	for _, tag := range []Tag{TagTooManyItems, TagUnprocessable, TagBadGateway, TagInternal} {
		if strings.HasPrefix(last, string(tag)) {
			return last, true
		}
	}
	return "", false
}

// ReadStream reads a complete data session: the count, then lines until the
// terminal marker. A connection closed before the marker returns the lines
// read so far together with the error.
func ReadStream(r io.Reader) (*Stream, error) {
	fr := NewReader(r)

	count, err := fr.ReadCount()
	if err != nil {
		return nil, err
	}

	stream := &Stream{Count: count}
	for {
		line, err := fr.ReadLine()
		if err != nil {
			return stream, err
		}
		if line == TerminalMarker {
			stream.Terminated = true
			return stream, nil
		}
		stream.Lines = append(stream.Lines, line)
	}
}

// ReadReply reads the answer to a probe or shutdown directive: lines until
// the terminal marker, with no count frame in front.
func ReadReply(r io.Reader) ([]string, error) {
	fr := NewReader(r)

	var lines []string
	for {
		line, err := fr.ReadLine()
		if err != nil {
			return lines, err
		}
		if line == TerminalMarker {
			return lines, nil
		}
		lines = append(lines, line)
	}
}
