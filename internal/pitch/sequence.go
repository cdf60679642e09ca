package pitch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrFrozen       = errors.New("pitch sequence is frozen")
	ErrNonMonotonic = errors.New("pitch sample time must increase")
)

// Sequence is an append-only, time-ordered list of samples with a single
// writer and any number of readers.
//
// Readers never lock: the writer publishes a new slice header after every
// append and elements below the published length are never modified, so a
// snapshot is always a consistent prefix.
type Sequence struct {
	wmu    sync.Mutex // serializes writers; readers do not take it
	buf    []Sample
	view   atomic.Pointer[[]Sample]
	frozen atomic.Bool
}

// NewSequence creates an empty sequence with room for capacity samples.
func NewSequence(capacity int) *Sequence {
	s := &Sequence{buf: make([]Sample, 0, capacity)}
	empty := s.buf[:0:0]
	s.view.Store(&empty)
	return s
}

// Append adds a sample. Times must be strictly increasing and clarity is
// clamped into [0,1].
func (s *Sequence) Append(sample Sample) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.frozen.Load() {
		return ErrFrozen
	}
	if n := len(s.buf); n > 0 && sample.Time <= s.buf[n-1].Time {
		return fmt.Errorf("%w: %.6f after %.6f", ErrNonMonotonic, sample.Time, s.buf[n-1].Time)
	}
	sample.Clarity = clampUnit(sample.Clarity)
	if sample.Pitch != nil {
		sample.Pitch = Hz(*sample.Pitch)
	}

	s.buf = append(s.buf, sample)
	view := s.buf[:len(s.buf):len(s.buf)]
	s.view.Store(&view)
	return nil
}

// Snapshot returns the samples appended so far. The returned slice must be
// treated as read-only.
func (s *Sequence) Snapshot() []Sample {
	return *s.view.Load()
}

// Len returns the number of samples appended so far.
func (s *Sequence) Len() int {
	return len(*s.view.Load())
}

// Freeze makes the sequence read-only. It is safe to call more than once.
func (s *Sequence) Freeze() {
	s.wmu.Lock()
	s.frozen.Store(true)
	s.wmu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (s *Sequence) Frozen() bool {
	return s.frozen.Load()
}
