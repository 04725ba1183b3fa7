package automate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scenepilot/scenepilot/internal/dom"
)

type capturePublisher struct {
	published chan PendingConfirmation
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{published: make(chan PendingConfirmation, 1)}
}

func (p *capturePublisher) PublishConfirmation(pc PendingConfirmation) {
	p.published <- pc
}

func TestPendingConfirmerResolve(t *testing.T) {
	pub := newCapturePublisher()
	c := NewPendingConfirmer(pub, time.Second)

	done := make(chan Decision, 1)
	go func() {
		d, err := c.Confirm(context.Background(), "42", "stashdb", &dom.Snapshot{Title: "x"})
		if err != nil {
			t.Errorf("Confirm: %v", err)
		}
		done <- d
	}()

	pc := <-pub.published
	if pc.SceneID != "42" || pc.Snapshot.Title != "x" {
		t.Errorf("published %+v", pc)
	}
	if !c.Resolve(pc.ID, DecisionApply) {
		t.Fatal("Resolve rejected a live id")
	}
	if d := <-done; d != DecisionApply {
		t.Errorf("decision = %s, want apply", d)
	}
	if c.Resolve(pc.ID, DecisionApply) {
		t.Error("Resolve accepted an already-resolved id")
	}
}

func TestPendingConfirmerTimeoutSkips(t *testing.T) {
	c := NewPendingConfirmer(newCapturePublisher(), 20*time.Millisecond)

	d, err := c.Confirm(context.Background(), "42", "stashdb", &dom.Snapshot{})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if d != DecisionSkip {
		t.Errorf("decision = %s, want skip on timeout", d)
	}
}

func TestPendingConfirmerContextCancel(t *testing.T) {
	c := NewPendingConfirmer(newCapturePublisher(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := c.Confirm(ctx, "42", "stashdb", &dom.Snapshot{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if d != DecisionCancel {
		t.Errorf("decision = %s, want cancel", d)
	}
}

func TestResolveUnknownID(t *testing.T) {
	c := NewPendingConfirmer(newCapturePublisher(), time.Second)
	if c.Resolve("nope", DecisionApply) {
		t.Error("Resolve accepted an unknown id")
	}
}
