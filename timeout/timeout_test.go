package timeout

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunReturnsBeforeDeadline(t *testing.T) {
	v, err := Run(context.Background(), time.Second, func(timedOut func() bool) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v != 42 {
		t.Fatalf("v = %d, want 42", v)
	}
}

func TestRunTimesOut(t *testing.T) {
	const d = 20 * time.Millisecond
	start := time.Now()
	_, err := Run(context.Background(), d, func(timedOut func() bool) (int, error) {
		time.Sleep(2 * d)
		return 0, nil
	})
	elapsed := time.Since(start)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if !errors.Is(err, ErrTimedOut) {
		t.Fatal("expected errors.Is(err, ErrTimedOut) to hold")
	}
	if elapsed >= 2*d {
		t.Fatalf("Run blocked for the full callback duration (%s), want it to return near %s", elapsed, d)
	}
}

func TestTimedOutObservableByCallback(t *testing.T) {
	const d = 15 * time.Millisecond
	observed := make(chan bool, 1)

	_, _ = Run(context.Background(), d, func(timedOut func() bool) (int, error) {
		deadline := time.After(2 * d)
		for {
			select {
			case <-deadline:
				observed <- timedOut()
				return 0, nil
			case <-time.After(time.Millisecond):
				if timedOut() {
					observed <- true
					return 0, nil
				}
			}
		}
	})

	select {
	case got := <-observed:
		if !got {
			t.Fatal("callback never observed timedOut() == true")
		}
	case <-time.After(time.Second):
		t.Fatal("callback never reported back")
	}
}

func TestRunHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Run(ctx, time.Second, func(timedOut func() bool) (int, error) {
		time.Sleep(time.Second)
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
