package pipeline

import (
	"errors"
	"fmt"
)

// ErrInternal marks faults inside the pipeline itself, as opposed to
// upstream failures.
var ErrInternal = errors.New("internal pipeline error")

// FetchError reports the item whose fetch aborted a run.
type FetchError struct {
	Index int
	Ref   string
	Err   error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch item %d (%s): %v", e.Index, e.Ref, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}
