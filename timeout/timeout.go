// Package timeout provides a generic "race a callback against a clock"
// wrapper, used by the worker package (and available standalone) to bound
// any blocking operation that doesn't have its own deadline support.
package timeout

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// TimeoutError is returned by Run when the timer elapses before f
// returns.
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: exceeded %s", e.Duration)
}

// ErrTimedOut wraps any TimeoutError, for errors.Is callers who don't
// care about the duration.
var ErrTimedOut = &TimeoutError{}

// Is reports that any *TimeoutError value matches ErrTimedOut, so
// callers can write errors.Is(err, timeout.ErrTimedOut) without knowing
// the configured duration.
func (e *TimeoutError) Is(target error) bool {
	_, ok := target.(*TimeoutError)
	return ok
}

// Run calls f in a new goroutine, passing a timedOut function f can poll
// to observe whether the clock has already run out. If f returns before
// the deadline, Run returns its result. If the deadline elapses first,
// Run returns a *TimeoutError immediately; f keeps running in the
// background and its eventual result (if any) is discarded - f is
// expected to use timedOut to cut its own work short.
//
// Run also honours ctx: a cancelled ctx behaves exactly like an elapsed
// deadline, surfacing ctx.Err() instead of a *TimeoutError.
func Run[T any](ctx context.Context, d time.Duration, f func(timedOut func() bool) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}

	var timedOut atomic.Bool
	resultCh := make(chan result, 1)

	go func() {
		v, err := f(timedOut.Load)
		resultCh <- result{v, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case r := <-resultCh:
		return r.v, r.err
	case <-ctx.Done():
		timedOut.Store(true)
		var zero T
		return zero, ctx.Err()
	case <-timer.C:
		timedOut.Store(true)
		var zero T
		return zero, &TimeoutError{Duration: d}
	}
}
