package fifolock

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestReentrant(t *testing.T) {
	var f FIFOLock
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Lock()
		f.Lock()
		if err := f.Unlock(); err != nil {
			t.Errorf("first unlock: %v", err)
		}
		if err := f.Unlock(); err != nil {
			t.Errorf("second unlock: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reentrant lock;lock;unlock;unlock blocked")
	}
}

func TestTryLock(t *testing.T) {
	var f FIFOLock
	if !f.TryLock() {
		t.Fatal("expected first TryLock to succeed")
	}
	if !f.TryLock() {
		t.Fatal("expected reentrant TryLock to succeed")
	}
	_ = f.Unlock()
	_ = f.Unlock()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		f.Lock()
		close(held)
		<-release
		_ = f.Unlock()
	}()
	<-held

	if f.TryLock() {
		t.Fatal("expected TryLock to fail while held by another goroutine")
	}
	close(release)
}

func TestFIFOStrictOrder(t *testing.T) {
	var f FIFOLock
	const n = 16

	f.Lock() // hold it so all n goroutines queue up

	arrived := make(chan int, n)
	exited := make(chan int, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			arrived <- i
			// give the previous goroutine's send a chance to be
			// observed in arrival order before we contend for the lock
			f.Lock()
			exited <- i
			_ = f.Unlock()
		}()
		// serialize spawn order so arrival order is deterministic
		time.Sleep(2 * time.Millisecond)
	}

	var arrivalOrder []int
	for i := 0; i < n; i++ {
		arrivalOrder = append(arrivalOrder, <-arrived)
	}

	f.Unlock()
	wg.Wait()
	close(exited)

	var exitOrder []int
	for v := range exited {
		exitOrder = append(exitOrder, v)
	}

	if len(exitOrder) != n {
		t.Fatalf("got %d exits, want %d", len(exitOrder), n)
	}
	for i := range arrivalOrder {
		if arrivalOrder[i] != exitOrder[i] {
			t.Fatalf("arrival order %v != exit order %v", arrivalOrder, exitOrder)
		}
	}
}

func TestUnlockWithoutOwnershipErrors(t *testing.T) {
	var f FIFOLock
	if err := f.Unlock(); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}

	done := make(chan error, 1)
	f.Lock()
	go func() { done <- f.Unlock() }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrNotOwner) {
			t.Fatalf("err = %v, want ErrNotOwner (wrong goroutine)", err)
		}
	case <-time.After(time.Second):
		t.Fatal("unlock from non-owner blocked instead of erroring")
	}
	_ = f.Unlock()
}

func TestUnlockAlreadyUnlockedErrors(t *testing.T) {
	var f FIFOLock
	f.Lock()
	if err := f.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := f.Unlock(); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("second unlock err = %v, want ErrNotOwner", err)
	}
}

func TestHandoffDoesNotBarge(t *testing.T) {
	var f FIFOLock
	f.Lock()

	order := make(chan string, 2)
	slowStarted := make(chan struct{})
	go func() {
		close(slowStarted)
		f.Lock()
		order <- "slow"
		time.Sleep(20 * time.Millisecond)
		_ = f.Unlock()
	}()
	<-slowStarted
	time.Sleep(10 * time.Millisecond) // ensure "slow" is enqueued first

	fastStarted := make(chan struct{})
	go func() {
		close(fastStarted)
		f.Lock()
		order <- "fast"
		_ = f.Unlock()
	}()
	<-fastStarted
	time.Sleep(10 * time.Millisecond)

	f.Unlock() // release to the queue: "slow" then "fast"

	first := <-order
	second := <-order
	if first != "slow" || second != "fast" {
		t.Fatalf("got order %s, %s; want slow, fast", first, second)
	}
}
