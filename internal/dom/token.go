package dom

import "sync"

// Token carries the cooperative cancellation and per-source skip
// signals through every long-running operation. Checks happen at step
// boundaries and inside WaitFor's poll loop; nothing is preempted, a
// click already issued will complete.
type Token struct {
	mu        sync.Mutex
	cancelled bool
	skip      bool
}

// NewToken returns a fresh token.
func NewToken() *Token {
	return &Token{}
}

// Cancel requests that the whole run stop at the next checkpoint.
func (t *Token) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
}

// Cancelled reports whether cancellation was requested.
func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// RequestSkip asks the runner to treat the current source as not found
// and move on. The flag stays set until consumed.
func (t *Token) RequestSkip() {
	t.mu.Lock()
	t.skip = true
	t.mu.Unlock()
}

// SkipPending reports whether a skip request is waiting.
func (t *Token) SkipPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skip
}

// ConsumeSkip clears a pending skip request and reports whether one
// was set. Consuming guarantees one skip affects exactly one source.
func (t *Token) ConsumeSkip() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.skip
	t.skip = false
	return was
}

// Reset clears both flags for the next run.
func (t *Token) Reset() {
	t.mu.Lock()
	t.cancelled = false
	t.skip = false
	t.mu.Unlock()
}
