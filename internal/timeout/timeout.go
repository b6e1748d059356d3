// Package timeout runs a single upstream call under a deadline.
//
// The call is not cancelled when the deadline passes: it keeps running on its
// own goroutine and its result is dropped. Upstream clients here have no
// reliable cooperative cancellation, so an abandoned call may still hold a
// connection until it finishes.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultSeconds is the process-wide deadline when none is configured.
const DefaultSeconds = 60

// ErrTimedOut is returned when the call did not finish before the deadline.
var ErrTimedOut = errors.New("timed out")

type result[T any] struct {
	v   T
	err error
}

// Call runs fn and waits at most d for it. A panic inside fn is returned as an
// error. ctx is handed to fn untouched; only the parent's own cancellation
// stops the wait early.
func Call[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		d = DefaultSeconds * time.Second
	}

	// buffered: an abandoned goroutine must be able to send and exit
	ch := make(chan result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result[T]{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- result[T]{v: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-timer.C:
		return zero, fmt.Errorf("call %w after %s", ErrTimedOut, d)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
