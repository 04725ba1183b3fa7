package dom

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitFor_PredicateSucceeds(t *testing.T) {
	calls := 0
	err := WaitFor(context.Background(), nil, WaitOpts{Timeout: time.Second, Interval: 5 * time.Millisecond},
		func(ctx context.Context) (bool, error) {
			calls++
			return calls >= 3, nil
		})
	if err != nil {
		t.Fatalf("WaitFor() error = %v", err)
	}
	if calls < 3 {
		t.Errorf("predicate called %d times, want >= 3", calls)
	}
}

func TestWaitFor_Timeout(t *testing.T) {
	err := WaitFor(context.Background(), nil, WaitOpts{Timeout: 30 * time.Millisecond, Interval: 5 * time.Millisecond},
		func(ctx context.Context) (bool, error) {
			return false, nil
		})
	if !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("WaitFor() error = %v, want ErrWaitTimeout", err)
	}
}

func TestWaitFor_CancellationRejectsEarly(t *testing.T) {
	tok := NewToken()
	tok.Cancel()

	start := time.Now()
	err := WaitFor(context.Background(), tok, WaitOpts{Timeout: 5 * time.Second},
		func(ctx context.Context) (bool, error) {
			return false, nil
		})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("WaitFor() error = %v, want ErrCancelled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation should reject before the timeout budget")
	}
}

func TestWaitFor_SkipOnlyWhenOptedIn(t *testing.T) {
	tok := NewToken()
	tok.RequestSkip()

	// Without InterruptOnSkip the wait runs to completion.
	err := WaitFor(context.Background(), tok, WaitOpts{Timeout: 30 * time.Millisecond, Interval: 5 * time.Millisecond},
		func(ctx context.Context) (bool, error) { return true, nil })
	if err != nil {
		t.Fatalf("WaitFor() without InterruptOnSkip error = %v", err)
	}

	err = WaitFor(context.Background(), tok, WaitOpts{Timeout: time.Second, InterruptOnSkip: true},
		func(ctx context.Context) (bool, error) { return false, nil })
	if !errors.Is(err, ErrSkipped) {
		t.Errorf("WaitFor() error = %v, want ErrSkipped", err)
	}
}

func TestWaitFor_PredicateErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	err := WaitFor(context.Background(), nil, WaitOpts{Timeout: time.Second},
		func(ctx context.Context) (bool, error) {
			return false, boom
		})
	if !errors.Is(err, boom) {
		t.Errorf("WaitFor() error = %v, want boom", err)
	}
}

func TestToken_ConsumeSkipClearsFlag(t *testing.T) {
	tok := NewToken()
	if tok.ConsumeSkip() {
		t.Error("ConsumeSkip() on fresh token = true, want false")
	}
	tok.RequestSkip()
	if !tok.ConsumeSkip() {
		t.Error("ConsumeSkip() after request = false, want true")
	}
	if tok.SkipPending() {
		t.Error("skip flag should be cleared after consume")
	}
}

func TestRaceEvent_EventWins(t *testing.T) {
	ch := make(chan struct{}, 1)
	ch <- struct{}{}

	start := time.Now()
	if err := RaceEvent(context.Background(), ch, time.Second); err != nil {
		t.Fatalf("RaceEvent() error = %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("event should resolve before the fallback delay")
	}
}

func TestRaceEvent_FallbackWins(t *testing.T) {
	if err := RaceEvent(context.Background(), make(chan struct{}), 10*time.Millisecond); err != nil {
		t.Fatalf("RaceEvent() error = %v", err)
	}
}

func TestRaceEvent_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RaceEvent(ctx, make(chan struct{}), time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RaceEvent() error = %v, want context.Canceled", err)
	}
}

func TestWatch_SignalsOnPredicate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	ch := Watch(ctx, time.Millisecond, func(context.Context) bool {
		calls++
		return calls >= 3
	})

	if err := RaceEvent(ctx, ch, time.Second); err != nil {
		t.Fatalf("RaceEvent() error = %v", err)
	}
	if calls < 3 {
		t.Errorf("predicate saw %d calls, want at least 3", calls)
	}
}

func TestWatch_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := Watch(ctx, time.Millisecond, func(context.Context) bool { return false })
	cancel()

	select {
	case <-ch:
		t.Error("channel closed without the predicate ever passing")
	case <-time.After(20 * time.Millisecond):
	}
}
