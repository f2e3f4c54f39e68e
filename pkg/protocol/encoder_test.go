package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// failingWriter accepts okWrites writes and fails every later one.
type failingWriter struct {
	okWrites int
	writes   int
	buf      bytes.Buffer
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > w.okWrites {
		return 0, errors.New("broken pipe")
	}
	return w.buf.Write(p)
}

func TestEncoder_SendCount(t *testing.T) {
	tests := []struct {
		name  string
		count uint16
		want  []byte
	}{
		{name: "zero", count: 0, want: []byte{0x00, 0x00}},
		{name: "small", count: 49, want: []byte{0x00, 0x31}},
		{name: "ceiling", count: 10000, want: []byte{0x27, 0x10}},
		{name: "max", count: 65535, want: []byte{0xff, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			enc := NewEncoder(&buf, zerolog.Nop())

			if err := enc.SendCount(tt.count); err != nil {
				t.Fatalf("SendCount() error = %v", err)
			}
			if !bytes.Equal(buf.Bytes(), tt.want) {
				t.Errorf("SendCount() wrote %v, want %v", buf.Bytes(), tt.want)
			}
		})
	}
}

func TestEncoder_SendLine_MultiByte(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, zerolog.Nop())

	line := `"8½",1963`
	if err := enc.SendLine(line); err != nil {
		t.Fatalf("SendLine() error = %v", err)
	}

	got := buf.Bytes()
	wantLen := len([]byte(line))
	if wantLen != 10 {
		t.Fatalf("test fixture: expected 10 UTF-8 bytes, got %d", wantLen)
	}
	if int(got[0])<<8|int(got[1]) != wantLen {
		t.Errorf("length prefix = %d, want %d", int(got[0])<<8|int(got[1]), wantLen)
	}

	decoded, err := NewReader(bytes.NewReader(got)).ReadLine()
	if err != nil {
		t.Fatalf("ReadLine() error = %v", err)
	}
	if decoded != line {
		t.Errorf("round trip = %q, want %q", decoded, line)
	}
}

func TestEncoder_SendLine_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, zerolog.Nop())

	err := enc.SendLine(strings.Repeat("a", MaxPayload+1))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("SendLine() error = %v, want ErrFrameTooLarge", err)
	}
	if buf.Len() != 0 {
		t.Errorf("oversized line wrote %d bytes, want 0", buf.Len())
	}
	if enc.Err() != nil {
		t.Errorf("oversized line must not poison the encoder, Err() = %v", enc.Err())
	}

	// Exactly at the limit is fine.
	if err := enc.SendLine(strings.Repeat("a", MaxPayload)); err != nil {
		t.Errorf("SendLine(max) error = %v", err)
	}
	if buf.Len() != SizeBytes+MaxPayload {
		t.Errorf("wrote %d bytes, want %d", buf.Len(), SizeBytes+MaxPayload)
	}
}

func TestEncoder_WriteFailureIsSticky(t *testing.T) {
	w := &failingWriter{okWrites: 1}
	enc := NewEncoder(w, zerolog.Nop())

	if err := enc.SendCount(3); err != nil {
		t.Fatalf("first write should succeed: %v", err)
	}

	err := enc.SendLine("header")
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("SendLine() error = %v, want ErrWriteFailed", err)
	}

	// Later frames are skipped without touching the writer.
	if err := enc.SendLine(TerminalMarker); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("SendLine() after failure error = %v, want ErrWriteFailed", err)
	}
	if w.writes != 2 {
		t.Errorf("writer called %d times, want 2", w.writes)
	}
	if !errors.Is(enc.Err(), ErrWriteFailed) {
		t.Errorf("Err() = %v, want ErrWriteFailed", enc.Err())
	}
}

func TestErrorLine(t *testing.T) {
	got := ErrorLine(TagUnprocessable, errors.New("invalid field: bingus"))
	want := "-- 422 UNPROCESSABLE CONTENT -- invalid field: bingus"
	if got != want {
		t.Errorf("ErrorLine() = %q, want %q", got, want)
	}

	if got := ErrorLine(TagInternal, nil); got != string(TagInternal) {
		t.Errorf("ErrorLine(nil) = %q, want %q", got, TagInternal)
	}
}
