// Package synchronizer serializes arbitrary concurrent callbacks into a
// monotonically increasing integer sequence. A goroutine calling Put with
// sequence number i blocks until every call with a lower sequence number
// has returned, runs its callback, then advances the sequence and wakes
// the next waiter.
package synchronizer

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is the default error delivered to waiters, and returned by Put,
// once a Synchronizer has been closed without an explicit error.
var ErrClosed = errors.New("synchronizer: closed")

// Synchronizer is the "ordered step" primitive described by this package's
// doc comment. The zero value is not usable; construct with New.
type Synchronizer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	current  int
	closed   bool
	closeErr error

	// onError receives errors returned by a Put callback. It is invoked in
	// a new goroutine so that a misbehaving sink can never wedge Put's
	// caller or the next waiter in line.
	onError func(error)
}

// Option configures a Synchronizer constructed via New.
type Option func(*Synchronizer)

// WithInitial sets the starting sequence number. Defaults to 1, matching
// the first call most pipelines make.
func WithInitial(i int) Option {
	return func(s *Synchronizer) { s.current = i }
}

// WithErrorSink registers fn as the destination for errors returned by Put
// callbacks. This stands in for "deliver the exception to the goroutine
// that created the Synchronizer" (Go has no way to target an arbitrary
// goroutine with an error) - see DESIGN.md, Open Question OQ-1. fn is
// called from a freshly spawned goroutine, never while any internal lock
// is held. If unset, callback errors are silently dropped, same as
// discarding os.Stderr output that nobody reads.
func WithErrorSink(fn func(error)) Option {
	return func(s *Synchronizer) { s.onError = fn }
}

// New constructs a Synchronizer, ready to accept Put calls starting at
// sequence 1 (or whatever WithInitial specifies).
func New(opts ...Option) *Synchronizer {
	s := &Synchronizer{current: 1}
	for _, opt := range opts {
		opt(s)
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Put blocks until the Synchronizer's current sequence equals i, then
// invokes f while holding the Synchronizer's internal lock, advances the
// sequence by incr, and wakes any other waiters. incr must be positive;
// incr > 1 is how callers skip sequence numbers that will never be put.
//
// If f returns an error, the sequence still advances (so the pipeline is
// never wedged by one failing stage) and the error is forwarded to the
// error sink registered via WithErrorSink, not to Put's caller.
//
// Put returns ErrClosed (or whatever error Close was given) if the
// Synchronizer is already closed, or becomes closed while Put is waiting.
func (s *Synchronizer) Put(i, incr int, f func() error) error {
	if incr <= 0 {
		panic("synchronizer: incr must be positive")
	}

	s.mu.Lock()
	for s.current != i && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return err
	}

	err := f()
	s.current += incr
	s.cond.Broadcast()
	s.mu.Unlock()

	if err != nil && s.onError != nil {
		go s.onError(fmt.Errorf("synchronizer: callback at sequence %d: %w", i, err))
	}
	return nil
}

// Wait blocks until the sequence reaches i, then advances it by one
// without running any callback. It is equivalent to a Put whose callback
// is a no-op and whose incr is 1, useful for barrier-style rendezvous
// where the side effect already happened elsewhere.
func (s *Synchronizer) Wait(i int) error {
	return s.Put(i, 1, func() error { return nil })
}

// Reset rewinds the sequence to i (defaulting to 1 for i <= 0) and clears
// closed, reviving a Synchronizer for another pass. Waiters parked from
// the previous epoch are not cancelled; they simply re-check the sequence
// once woken, same as any other waiter (see DESIGN.md Open Question OQ-2).
func (s *Synchronizer) Reset(i int) {
	if i <= 0 {
		i = 1
	}
	s.mu.Lock()
	s.current = i
	s.closed = false
	s.closeErr = nil
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Close latches the Synchronizer closed and wakes every waiter with err
// (ErrClosed if err is nil). Subsequent Put calls return err immediately.
func (s *Synchronizer) Close(err error) {
	if err == nil {
		err = ErrClosed
	}
	s.mu.Lock()
	s.closed = true
	s.closeErr = err
	s.mu.Unlock()
	s.cond.Broadcast()
}

// IsOpen reports whether the Synchronizer can still accept Put calls.
func (s *Synchronizer) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Current returns the sequence number that would currently unblock Put.
// It is a diagnostic accessor, not part of the core contract.
func (s *Synchronizer) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
