package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// DefaultMaxRequestBytes bounds the size of an inbound request.
	DefaultMaxRequestBytes = 2048

	// ProbeMessage is the liveness probe sentinel.
	ProbeMessage = "are you healthy?"

	// ShutdownMessage asks the accept loop to stop.
	ShutdownMessage = "shutdown"
)

// ErrMalformedRequest indicates an inbound payload that is not a usable request.
var ErrMalformedRequest = errors.New("malformed request")

// Kind classifies an inbound request.
type Kind int

const (
	// KindList asks for a list to be streamed.
	KindList Kind = iota

	// KindProbe is the liveness probe.
	KindProbe

	// KindShutdown is the shutdown directive.
	KindShutdown
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindProbe:
		return "probe"
	case KindShutdown:
		return "shutdown"
	default:
		return "list"
	}
}

// Request is the single JSON object a client sends per connection.
type Request struct {
	// Msg carries the probe and shutdown sentinels
	Msg string `json:"msg,omitempty"`

	// ListName is the list slug on the upstream site
	ListName string `json:"list_name,omitempty"`

	// AuthorUser is the user owning the list
	AuthorUser string `json:"author_user,omitempty"`

	// Attrs are the requested field names, or ["none"]
	Attrs []string `json:"attrs,omitempty"`
}

// Kind classifies the request.
func (r *Request) Kind() Kind {
	switch r.Msg {
	case ProbeMessage:
		return KindProbe
	case ShutdownMessage:
		return KindShutdown
	default:
		return KindList
	}
}

// ReadRequest decodes one request of at most maxBytes from r.
// Decoding stops at the end of the JSON object, so the peer does not need to
// half-close the connection.
func ReadRequest(r io.Reader, maxBytes int64) (*Request, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestBytes
	}

	var req Request
	dec := json.NewDecoder(io.LimitReader(r, maxBytes))
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	if req.Kind() == KindList {
		if strings.TrimSpace(req.ListName) == "" || strings.TrimSpace(req.AuthorUser) == "" {
			return nil, fmt.Errorf("%w: list_name and author_user are required", ErrMalformedRequest)
		}
	}

	return &req, nil
}

// WriteRequest encodes req to w.
func WriteRequest(w io.Writer, req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}
