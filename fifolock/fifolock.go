// Package fifolock implements a reentrant mutex with strict FIFO
// acquisition order among distinct goroutines: a goroutine that arrives
// at a held lock after another is already waiting can never "barge" past
// it. Ownership is handed off directly from the unlocker to the head of
// the wait queue, rather than re-contended in the open.
package fifolock

import (
	"errors"
	"sync"

	"github.com/concurrentutil/concurrentutil/goroutineid"
)

// ErrNotOwner is returned by Unlock when the calling goroutine does not
// currently hold the lock.
var ErrNotOwner = errors.New("fifolock: unlock called by a goroutine that does not hold the lock")

// goroutineID identifies the calling goroutine. Treated as an opaque
// comparable value by this package.
type goroutineID = uint64

func currentGoroutineID() goroutineID { return goroutineid.Get() }

// FIFOLock is the mutex described by this package's doc comment. The
// zero value is ready to use.
type FIFOLock struct {
	mu   sync.Mutex // guards everything below, and is the wait queue's Cond lock
	cond *sync.Cond

	havelock bool
	ownedBy  goroutineID
	reentry  uint32

	// waiters is an explicit FIFO queue of parked goroutine ids, used so
	// Unlock can hand the lock directly to the head instead of relying on
	// whichever parked goroutine Cond.Signal happens to wake (sync.Cond
	// makes no such guarantee).
	waiters []*waiter
}

type waiter struct {
	id      goroutineID
	handoff bool
}

// Lock acquires the lock. If the calling goroutine already holds it, Lock
// simply increments the reentrancy count; it must then call Unlock the
// same number of times to fully release. Among distinct goroutines,
// acquisition order equals arrival order at the contention point.
func (f *FIFOLock) Lock() {
	id := currentGoroutineID()

	f.mu.Lock()
	if f.havelock && f.ownedBy == id {
		f.reentry++
		f.mu.Unlock()
		return
	}
	if !f.havelock {
		f.havelock = true
		f.ownedBy = id
		f.reentry = 1
		f.mu.Unlock()
		return
	}

	w := &waiter{id: id}
	f.waiters = append(f.waiters, w)
	if f.cond == nil {
		f.cond = sync.NewCond(&f.mu)
	}
	for !w.handoff {
		f.cond.Wait()
	}
	// Ownership was handed to us directly; havelock is already true and
	// ownedBy/reentry were already set by Unlock.
	f.mu.Unlock()
}

// TryLock attempts to acquire the lock without blocking, returning false
// if it is held by another goroutine. A reentrant call by the current
// owner always succeeds.
func (f *FIFOLock) TryLock() bool {
	id := currentGoroutineID()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.havelock && f.ownedBy == id {
		f.reentry++
		return true
	}
	if f.havelock {
		return false
	}
	f.havelock = true
	f.ownedBy = id
	f.reentry = 1
	return true
}

// Unlock releases one level of reentrancy. Once the count drops to zero,
// ownership passes to the goroutine at the head of the wait queue (if
// any) without ever clearing havelock, or the lock becomes free.
//
// Unlock returns ErrNotOwner if the calling goroutine does not currently
// hold the lock; it never panics, since a library primitive should never
// crash its caller's process over a contract violation it can describe.
func (f *FIFOLock) Unlock() error {
	id := currentGoroutineID()

	f.mu.Lock()
	if !f.havelock || f.ownedBy != id {
		f.mu.Unlock()
		return ErrNotOwner
	}

	f.reentry--
	if f.reentry > 0 {
		f.mu.Unlock()
		return nil
	}

	if len(f.waiters) == 0 {
		f.havelock = false
		f.ownedBy = 0
		f.mu.Unlock()
		return nil
	}

	next := f.waiters[0]
	f.waiters = f.waiters[1:]
	f.ownedBy = next.id
	f.reentry = 1
	next.handoff = true
	f.cond.Broadcast()
	f.mu.Unlock()
	return nil
}
