// Package status consolidates detection results into one snapshot of
// the currently-viewed scene and pushes change notifications to
// subscribers.
package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scenepilot/scenepilot/internal/detect"
	"github.com/scenepilot/scenepilot/internal/history"
	"github.com/scenepilot/scenepilot/internal/stash"
)

var ErrNoScene = errors.New("no scene in view")

// SourceStatus is the per-source slice of a scene's status.
type SourceStatus struct {
	Scraped    bool              `json:"scraped"`
	Confidence int               `json:"confidence"`
	Strategy   string            `json:"strategy"`
	Data       map[string]string `json:"data,omitempty"`
}

func fromResult(r detect.Result) SourceStatus {
	return SourceStatus{
		Scraped:    r.Found,
		Confidence: r.Confidence,
		Strategy:   r.Strategy,
		Data:       r.Data,
	}
}

// SceneStatus is the consolidated snapshot for one scene.
type SceneStatus struct {
	SceneID        string           `json:"sceneId"`
	StashDB        SourceStatus     `json:"stashdb"`
	ThePornDB      SourceStatus     `json:"theporndb"`
	Organized      bool             `json:"organized"`
	LastAutomation *history.Outcome `json:"lastAutomation,omitempty"`
	LastUpdate     time.Time        `json:"lastUpdate"`
}

// SceneLocator derives the scene id from the page location.
type SceneLocator interface {
	CurrentSceneID(ctx context.Context) (string, error)
}

// SceneFetcher provides the single authoritative read shared by all
// detector calls in one recompute.
type SceneFetcher interface {
	FindScene(ctx context.Context, id string) (*stash.Scene, error)
}

// LatestOutcome looks up the most recent automation result for a scene.
type LatestOutcome interface {
	Latest(ctx context.Context, sceneID string) (*history.Outcome, error)
}

// Subscriber receives every freshly computed snapshot.
type Subscriber func(*SceneStatus)

// Tracker owns the authoritative in-memory SceneStatus for the scene
// in view. The orchestrator reads it and requests refreshes; writes go
// through UpdateOutcome, never direct mutation.
type Tracker struct {
	locator  SceneLocator
	fetcher  SceneFetcher
	detector *detect.Detector
	outcomes LatestOutcome
	logger   zerolog.Logger

	mu       sync.Mutex
	current  *SceneStatus
	subs     map[int]Subscriber
	nextSub  int
}

// NewTracker creates a Tracker.
func NewTracker(locator SceneLocator, fetcher SceneFetcher, detector *detect.Detector, outcomes LatestOutcome, logger zerolog.Logger) *Tracker {
	return &Tracker{
		locator:  locator,
		fetcher:  fetcher,
		detector: detector,
		outcomes: outcomes,
		logger:   logger.With().Str("component", "status").Logger(),
		subs:     make(map[int]Subscriber),
	}
}

// Detect recomputes the full status. One scene fetch is shared by all
// three detector calls; redundant round-trips stay in the wire
// client's short-TTL cache at worst.
func (t *Tracker) Detect(ctx context.Context) (*SceneStatus, error) {
	sceneID, err := t.locator.CurrentSceneID(ctx)
	if err != nil {
		return nil, fmt.Errorf("locate scene: %w", err)
	}
	if sceneID == "" {
		return nil, ErrNoScene
	}

	// Shared authoritative fetch. A failure here is not fatal: the
	// detector falls back to DOM heuristics per source.
	scene, err := t.fetcher.FindScene(ctx, sceneID)
	if err != nil {
		t.logger.Debug().Err(err).Str("scene", sceneID).Msg("scene fetch failed, detectors will fall back")
		scene = nil
	}

	st := &SceneStatus{
		SceneID:    sceneID,
		StashDB:    fromResult(t.detector.DetectStashDB(ctx, sceneID, scene)),
		ThePornDB:  fromResult(t.detector.DetectThePornDB(ctx, sceneID, scene)),
		Organized:  t.detector.DetectOrganized(ctx, sceneID, scene).Found,
		LastUpdate: time.Now(),
	}

	if t.outcomes != nil {
		if last, err := t.outcomes.Latest(ctx, sceneID); err == nil {
			st.LastAutomation = last
		}
	}

	t.mu.Lock()
	t.current = st
	subs := t.snapshotSubsLocked()
	t.mu.Unlock()

	t.notify(subs, st)
	return st, nil
}

// Current returns the last computed snapshot without recomputing.
func (t *Tracker) Current() *SceneStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// UpdateOutcome records an automation outcome on the snapshot without
// a full re-detect, and notifies subscribers.
func (t *Tracker) UpdateOutcome(o *history.Outcome) {
	t.mu.Lock()
	if t.current == nil {
		t.current = &SceneStatus{SceneID: o.SceneID}
	}
	t.current.LastAutomation = o
	if o.Organized {
		t.current.Organized = true
	}
	t.current.LastUpdate = time.Now()
	st := t.current
	subs := t.snapshotSubsLocked()
	t.mu.Unlock()

	t.notify(subs, st)
}

// Invalidate forgets the snapshot so the next Detect starts clean.
func (t *Tracker) Invalidate() {
	t.mu.Lock()
	t.current = nil
	t.mu.Unlock()
}

// Subscribe registers a subscriber and returns its remover.
func (t *Tracker) Subscribe(fn Subscriber) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) snapshotSubsLocked() []Subscriber {
	subs := make([]Subscriber, 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	return subs
}

// notify calls subscribers synchronously. A panicking subscriber must
// not take the others down with it.
func (t *Tracker) notify(subs []Subscriber, st *SceneStatus) {
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error().Interface("panic", r).Msg("status subscriber panicked")
				}
			}()
			fn(st)
		}()
	}
}
