// Package dom provides the DOM interaction helpers the automation
// engine is built on: a single bounded, cancellable wait-for-predicate
// primitive, fast clicking, scrape outcome polling, and the selector
// set that couples the agent to the host application's UI.
package dom

import (
	"context"
	"errors"
	"time"
)

var (
	ErrWaitTimeout = errors.New("wait timed out")
	ErrCancelled   = errors.New("operation cancelled")
	ErrSkipped     = errors.New("source skipped")
)

// WaitOpts bounds a wait.
type WaitOpts struct {
	// Timeout is the total wait budget. Default: 5s.
	Timeout time.Duration
	// Interval is the poll granularity. Default: 100ms.
	Interval time.Duration
	// InterruptOnSkip makes a pending skip request reject the wait
	// with ErrSkipped. Set for waits inside per-source work only.
	InterruptOnSkip bool
}

func (o *WaitOpts) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.Interval <= 0 {
		o.Interval = 100 * time.Millisecond
	}
}

// WaitFor polls pred until it returns true, the budget elapses, the
// context ends, or the token signals. Every other wait in the agent
// (element wait, outcome poll, organize re-check) is built on this.
//
// A pred error aborts the wait immediately; a false result retries on
// the next tick.
func WaitFor(ctx context.Context, tok *Token, opts WaitOpts, pred func(ctx context.Context) (bool, error)) error {
	opts.defaults()

	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		if tok != nil {
			if tok.Cancelled() {
				return ErrCancelled
			}
			if opts.InterruptOnSkip && tok.SkipPending() {
				return ErrSkipped
			}
		}

		ok, err := pred(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrWaitTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RaceEvent waits for a signal on event or, failing that, for the
// fallback delay. Both resolve to success; only context cancellation
// is an error. It models the "event-driven when available, fixed
// delay otherwise" pattern used after save and apply clicks.
func RaceEvent(ctx context.Context, event <-chan struct{}, fallback time.Duration) error {
	timer := time.NewTimer(fallback)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-event:
		return nil
	case <-timer.C:
		return nil
	}
}

// Watch polls pred every interval and closes the returned channel on
// the first true, for racing against a fallback delay via RaceEvent.
// The goroutine exits when ctx is done, so callers should derive a
// short-lived context.
func Watch(ctx context.Context, interval time.Duration, pred func(context.Context) bool) <-chan struct{} {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ch := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if pred(ctx) {
					close(ch)
					return
				}
			}
		}
	}()
	return ch
}

// Settle sleeps briefly to let the UI catch up, honoring the context.
func Settle(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
