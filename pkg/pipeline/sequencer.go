package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Sternrassler/rowstream/pkg/record"
)

var (
	// ErrDuplicateDeposit indicates a second deposit for the same index
	ErrDuplicateDeposit = errors.New("duplicate deposit")

	// ErrIndexOutOfRange indicates a deposit outside 0..N-1
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrAbandoned is returned for deposits after Abandon
	ErrAbandoned = errors.New("sequencer abandoned")
)

// Sink receives rows in index order.
type Sink func(row record.Row) error

type slotState uint8

const (
	slotEmpty slotState = iota
	slotFilled
	slotSent
)

type slot struct {
	state slotState
	row   record.Row
}

// Sequencer is a reorder buffer: rows arrive in any order and leave through
// the sink strictly as 0, 1, ..., N-1.
//
// Deposit and the drain that follows it share one critical section, so at
// most one goroutine calls the sink at a time.
type Sequencer struct {
	mu        sync.Mutex
	slots     []slot
	next      int
	buffered  int
	sink      Sink
	err       error
	abandoned bool
}

// NewSequencer creates a sequencer for n rows.
func NewSequencer(n int, sink Sink) *Sequencer {
	return &Sequencer{
		slots: make([]slot, n),
		sink:  sink,
	}
}

// Deposit stores the row for index and releases every row that is now
// contiguous with the cursor. It returns the sink's error when a release fails;
// that error sticks and every later deposit returns it.
func (s *Sequencer) Deposit(index int, row record.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if s.abandoned {
		return ErrAbandoned
	}
	if index < 0 || index >= len(s.slots) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, len(s.slots))
	}
	if s.slots[index].state != slotEmpty {
		return fmt.Errorf("%w: index %d", ErrDuplicateDeposit, index)
	}

	s.slots[index] = slot{state: slotFilled, row: row}
	s.buffered++
	SequencerBuffered.Inc()

	return s.drain()
}

// drain must be called with mu held.
func (s *Sequencer) drain() error {
	for s.next < len(s.slots) && s.slots[s.next].state == slotFilled {
		row := s.slots[s.next].row
		s.slots[s.next] = slot{state: slotSent}
		s.next++
		s.buffered--
		SequencerBuffered.Dec()

		if err := s.sink(row); err != nil {
			s.err = err
			return err
		}
	}
	return nil
}

// Abandon stops the sequencer without draining buffered rows.
func (s *Sequencer) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.abandoned {
		return
	}
	s.abandoned = true

	// Release buffered rows so the gauge reflects live sequencers only.
	SequencerBuffered.Sub(float64(s.buffered))
	s.buffered = 0
	for i := s.next; i < len(s.slots); i++ {
		s.slots[i].row = nil
	}
}

// Next returns the index of the next row to release.
func (s *Sequencer) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Buffered returns the number of rows waiting on a gap.
func (s *Sequencer) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered
}

func (s *Sequencer) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abandoned || s.err != nil
}

// Done reports whether every row has been released.
func (s *Sequencer) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next == len(s.slots)
}
