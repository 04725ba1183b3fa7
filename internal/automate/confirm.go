package automate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scenepilot/scenepilot/internal/dom"
)

// Decision is the three-way outcome of a confirmation request.
type Decision string

const (
	DecisionApply  Decision = "apply"
	DecisionSkip   Decision = "skip"
	DecisionCancel Decision = "cancel"
)

// Confirmer decides whether scraped data gets applied. apply writes
// the data, skip leaves this source unapplied, cancel aborts the run.
type Confirmer interface {
	Confirm(ctx context.Context, sceneID, source string, snap *dom.Snapshot) (Decision, error)
}

// AutoConfirmer always applies. Used when auto-apply is enabled.
type AutoConfirmer struct{}

func (AutoConfirmer) Confirm(ctx context.Context, sceneID, source string, snap *dom.Snapshot) (Decision, error) {
	return DecisionApply, nil
}

// PendingConfirmation is what gets pushed to the control UI while a
// run waits for the user's choice.
type PendingConfirmation struct {
	ID        string        `json:"id"`
	SceneID   string        `json:"sceneId"`
	Source    string        `json:"source"`
	Snapshot  *dom.Snapshot `json:"snapshot"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

// ConfirmationPublisher pushes a pending confirmation to whoever is
// listening. The websocket hub implements it.
type ConfirmationPublisher interface {
	PublishConfirmation(p PendingConfirmation)
}

// DefaultConfirmTimeout bounds how long a run waits on the user.
const DefaultConfirmTimeout = 60 * time.Second

// PendingConfirmer publishes the snapshot and blocks the run until the
// user answers or the timeout elapses. Timeout resolves to skip: an
// unattended run must never write unreviewed data.
type PendingConfirmer struct {
	publisher ConfirmationPublisher
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]chan Decision
}

// NewPendingConfirmer creates a PendingConfirmer. timeout <= 0 uses
// DefaultConfirmTimeout.
func NewPendingConfirmer(publisher ConfirmationPublisher, timeout time.Duration) *PendingConfirmer {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	return &PendingConfirmer{
		publisher: publisher,
		timeout:   timeout,
		pending:   make(map[string]chan Decision),
	}
}

func (c *PendingConfirmer) Confirm(ctx context.Context, sceneID, source string, snap *dom.Snapshot) (Decision, error) {
	id := uuid.NewString()
	ch := make(chan Decision, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.publisher.PublishConfirmation(PendingConfirmation{
		ID:        id,
		SceneID:   sceneID,
		Source:    source,
		Snapshot:  snap,
		ExpiresAt: time.Now().Add(c.timeout),
	})

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return DecisionCancel, ctx.Err()
	case d := <-ch:
		return d, nil
	case <-timer.C:
		return DecisionSkip, nil
	}
}

// Resolve answers a pending confirmation. Returns false when the id is
// unknown or already resolved.
func (c *PendingConfirmer) Resolve(id string, d Decision) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- d
	return true
}

// Pending returns the ids of unresolved confirmations.
func (c *PendingConfirmer) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	return ids
}
