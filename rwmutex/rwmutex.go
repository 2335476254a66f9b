// Package rwmutex implements a writer-preferring multi-reader/single-writer
// lock. Once a writer starts waiting, every reader that arrives afterward
// parks until that writer has run and released, so a steady stream of
// readers can never starve a writer.
package rwmutex

import (
	"sync"
	"sync/atomic"
)

// maxReaders is subtracted from the reader counter to mark "a writer is
// active or pending" without losing the count of readers that were
// already active at that moment.
const maxReaders = 1 << 30

// RWMutex is the lock described by this package's doc comment. The zero
// value is ready to use.
type RWMutex struct {
	w sync.Mutex // serializes writers against each other

	readerCount atomic.Int64 // active readers, or (active - maxReaders) while a writer holds/waits
	readerWait  atomic.Int64 // readers the current writer is still waiting to drain

	readMu        sync.Mutex // guards readCond's predicate (readerRelease > 0)
	readCond      *sync.Cond
	readerRelease int // parked readers a released writer has let through, not yet claimed

	writeReady chan struct{} // one-shot per writer: closed to release a parked writer
	writeMu    sync.Mutex    // guards writeReady's lifecycle

	locked atomic.Bool // true while a writer holds the lock, for IsLocked
}

// New constructs a ready-to-use RWMutex. Using the zero value directly is
// also fine; New exists for symmetry with the package's other
// constructors and so call sites read the same way.
func New() *RWMutex {
	m := &RWMutex{}
	m.readCond = sync.NewCond(&m.readMu)
	return m
}

func (m *RWMutex) cond() *sync.Cond {
	if m.readCond == nil {
		// the zero value never called New; build the Cond lazily exactly
		// once using readMu itself as the guard against the race.
		m.readMu.Lock()
		if m.readCond == nil {
			m.readCond = sync.NewCond(&m.readMu)
		}
		m.readMu.Unlock()
	}
	return m.readCond
}

// RLock acquires a read lock. Any number of goroutines may hold a read
// lock simultaneously, so long as no writer is active or pending.
func (m *RWMutex) RLock() {
	if m.readerCount.Add(1) < 0 {
		// A writer is active or pending: park until it releases.
		cond := m.cond()
		m.readMu.Lock()
		for m.readerRelease == 0 {
			cond.Wait()
		}
		m.readerRelease--
		m.readMu.Unlock()
	}
}

// RUnlock releases a read lock previously acquired with RLock.
func (m *RWMutex) RUnlock() {
	if m.readerCount.Add(-1) < 0 {
		// A writer is waiting on us specifically: report drain progress.
		if m.readerWait.Add(-1) == 0 {
			m.signalWriteReady()
		}
	}
}

// Lock acquires the write lock, excluding all readers and other writers.
func (m *RWMutex) Lock() {
	m.w.Lock()

	// Announce "a writer is here" by pushing every active/future reader
	// into negative territory, and recover r, the number of readers that
	// were already active at this instant.
	r := m.readerCount.Add(-maxReaders) + maxReaders
	if r != 0 {
		m.writeMu.Lock()
		ready := make(chan struct{})
		m.writeReady = ready
		m.writeMu.Unlock()

		if m.readerWait.Add(r) != 0 {
			<-ready
		}
	}
	m.locked.Store(true)
}

// Unlock releases the write lock, waking any readers that parked while it
// was held or pending.
func (m *RWMutex) Unlock() {
	m.locked.Store(false)
	r := m.readerCount.Add(maxReaders)
	if r > 0 {
		cond := m.cond()
		m.readMu.Lock()
		m.readerRelease += int(r)
		cond.Broadcast()
		m.readMu.Unlock()
	}
	m.w.Unlock()
}

// IsLocked reports whether a writer currently holds the lock. It is a
// diagnostic accessor: by the time it returns, the answer may already be
// stale.
func (m *RWMutex) IsLocked() bool {
	return m.locked.Load()
}

func (m *RWMutex) signalWriteReady() {
	m.writeMu.Lock()
	ready := m.writeReady
	m.writeReady = nil
	m.writeMu.Unlock()
	if ready != nil {
		close(ready)
	}
}
