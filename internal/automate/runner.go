// Package automate sequences the end-to-end scrape, confirm, apply,
// save and organize workflow against the host application's edit view.
// One run is active at a time; cancellation and per-source skip are
// cooperative flags checked at every step boundary and inside every
// DOM wait.
package automate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/scenepilot/scenepilot/internal/detect"
	"github.com/scenepilot/scenepilot/internal/dom"
	"github.com/scenepilot/scenepilot/internal/history"
	"github.com/scenepilot/scenepilot/internal/stash"
	"github.com/scenepilot/scenepilot/internal/status"
)

// RescrapeOptions force selected sources through again, bypassing the
// skip-already-scraped check for exactly those sources.
type RescrapeOptions struct {
	ForceRescrape     bool `json:"forceRescrape"`
	RescrapeStashDB   bool `json:"rescrapeStashdb"`
	RescrapeThePornDB bool `json:"rescrapeTheporndb"`
}

// UI is everything the runner does to the page. *dom.Editor implements
// it against live Chrome; tests script a fake.
type UI interface {
	dom.OutcomeProbe
	EnsureEditContext(ctx context.Context, tok *dom.Token, timeout time.Duration) error
	TriggerScrape(ctx context.Context, tok *dom.Token, sourceLabel string) error
	CreateMissingEntities(ctx context.Context, tok *dom.Token) (int, error)
	CollectSnapshot(ctx context.Context) (*dom.Snapshot, error)
	ClickApply(ctx context.Context, tok *dom.Token) (bool, error)
	Save(ctx context.Context, tok *dom.Token) error
	OrganizedActive(ctx context.Context) (bool, error)
	ClickOrganize(ctx context.Context, tok *dom.Token) error
}

// Locator identifies the scene currently in view.
type Locator interface {
	CurrentSceneID(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)
}

// StatusTracker is the runner's view of the status subsystem.
type StatusTracker interface {
	Detect(ctx context.Context) (*status.SceneStatus, error)
	UpdateOutcome(o *history.Outcome)
	Invalidate()
}

// SceneAPI is the slice of the wire client the runner needs.
type SceneAPI interface {
	FindScene(ctx context.Context, id string) (*stash.Scene, error)
	InvalidateScene(sceneID string)
}

// OrganizedDetector re-checks the organized flag and drops stale
// detection results after mutations.
type OrganizedDetector interface {
	DetectOrganized(ctx context.Context, sceneID string, prefetched *stash.Scene) detect.Result
	Invalidate(sceneID string)
}

// Recorder persists run outcomes.
type Recorder interface {
	Record(ctx context.Context, o history.Outcome) (*history.Outcome, error)
}

// ThumbnailHasher stores a perceptual hash of the scene's thumbnail
// after a successful run. Best effort, may be nil.
type ThumbnailHasher interface {
	HashScene(ctx context.Context, sceneID string) error
}

// Run stages, published as progress events.
const (
	StageOpeningEdit    = "opening_edit"
	StageCheckingStatus = "checking_status"
	StageScraping       = "scraping"
	StageSaving         = "saving"
	StageOrganizing     = "organizing"
	StageComplete       = "complete"
	StageFailed         = "failed"
	StageCancelled      = "cancelled"
)

// Progress is a coarse run-state event for the control UI.
type Progress struct {
	SceneID string `json:"sceneId"`
	Stage   string `json:"stage"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message,omitempty"`
}

// ProgressPublisher pushes progress events. May be nil.
type ProgressPublisher interface {
	PublishProgress(p Progress)
}

// Deps wires the runner's collaborators.
type Deps struct {
	UI        UI
	Locator   Locator
	Tracker   StatusTracker
	Scenes    SceneAPI
	Detector  OrganizedDetector
	History   Recorder
	Confirmer Confirmer
	Hasher    ThumbnailHasher
	Progress  ProgressPublisher
}

// Navigator drives the shared tab to a scene page. *browser.Session
// implements it.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// Runner is the automation orchestrator.
type Runner struct {
	deps   Deps
	policy Policy
	logger zerolog.Logger

	inProgress atomic.Bool
	tok        *dom.Token

	// navMu serializes RunScene's navigate+run critical section. The
	// tab is shared, so a second navigation while a run is active
	// would stomp the page mid-run.
	navMu sync.Mutex
}

// NewRunner creates a Runner. A nil Confirmer gets AutoConfirmer.
func NewRunner(deps Deps, policy Policy, logger zerolog.Logger) *Runner {
	if deps.Confirmer == nil {
		deps.Confirmer = AutoConfirmer{}
	}
	return &Runner{
		deps:   deps,
		policy: policy,
		logger: logger.With().Str("component", "automate").Logger(),
		tok:    dom.NewToken(),
	}
}

// Running reports whether a run is active.
func (r *Runner) Running() bool {
	return r.inProgress.Load()
}

// Policy returns the active automation policy.
func (r *Runner) Policy() Policy {
	r.navMu.Lock()
	defer r.navMu.Unlock()
	return r.policy
}

// SetPolicy swaps the automation policy for subsequent runs, as when a
// saved profile is applied. Rejected while a run is active so a run
// never observes two policies.
func (r *Runner) SetPolicy(p Policy) error {
	r.navMu.Lock()
	defer r.navMu.Unlock()
	// Holding the in-progress slot for the swap keeps a starting run
	// from reading a half-applied policy.
	if !r.inProgress.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	r.policy = p
	r.inProgress.Store(false)
	return nil
}

// RunScene navigates the shared tab to url and runs automation there.
// The navigate+run pair is one critical section: batch workers above
// concurrency 1 queue here instead of navigating the tab out from
// under the active run or burning retries on ErrRunInProgress.
func (r *Runner) RunScene(ctx context.Context, nav Navigator, url string, opts RescrapeOptions) (*history.Outcome, error) {
	r.navMu.Lock()
	defer r.navMu.Unlock()
	if err := nav.Navigate(ctx, url); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	return r.Run(ctx, opts)
}

// Cancel requests cooperative cancellation of the active run.
func (r *Runner) Cancel() {
	if r.inProgress.Load() {
		r.tok.Cancel()
	}
}

// SkipCurrentSource marks the in-flight (or next) source as skipped.
func (r *Runner) SkipCurrentSource() {
	if r.inProgress.Load() {
		r.tok.RequestSkip()
	}
}

// runState accumulates what one run learns and does.
type runState struct {
	sceneID   string
	sceneName string
	url       string
	scene     *stash.Scene
	preStatus *status.SceneStatus

	sourcesUsed       []string
	warnings          []string
	performersCreated int
	organized         bool
}

// Run executes one full automation pass over the scene in view. A
// second call while a run is active returns ErrRunInProgress without
// queuing. The outcome, success or failure, is recorded to history and
// pushed to the status tracker; caches are invalidated so the next
// status read is fresh.
func (r *Runner) Run(ctx context.Context, opts RescrapeOptions) (*history.Outcome, error) {
	if !r.inProgress.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	start := time.Now()
	rs := &runState{}
	defer func() {
		r.tok.Reset()
		r.inProgress.Store(false)
	}()

	err := r.execute(ctx, opts, rs)

	outcome := history.Outcome{
		SceneID:           rs.sceneID,
		SceneName:         rs.sceneName,
		Timestamp:         time.Now(),
		DurationMs:        time.Since(start).Milliseconds(),
		SourcesUsed:       rs.sourcesUsed,
		Organized:         rs.organized,
		PerformersCreated: rs.performersCreated,
	}
	if err != nil {
		outcome.Errors = []string{err.Error()}
	} else {
		outcome.Success = true
		outcome.Errors = rs.warnings
	}

	// A failure before identity is known (edit context unreachable,
	// no scene in view) has no scene id to key a history row on; it is
	// logged and pushed as a progress event only.
	if rs.sceneID != "" {
		if recorded, recErr := r.deps.History.Record(ctx, outcome); recErr != nil {
			r.logger.Error().Err(recErr).Str("scene", rs.sceneID).Msg("failed to record outcome")
		} else {
			outcome = *recorded
		}
		r.deps.Tracker.UpdateOutcome(&outcome)
		r.invalidate(rs.sceneID)

		if err == nil && r.deps.Hasher != nil {
			if hashErr := r.deps.Hasher.HashScene(ctx, rs.sceneID); hashErr != nil {
				r.logger.Debug().Err(hashErr).Str("scene", rs.sceneID).Msg("thumbnail hash skipped")
			}
		}
	}

	switch {
	case errors.Is(err, ErrRunCancelled):
		r.progress(rs, StageCancelled, "", "")
	case err != nil:
		r.progress(rs, StageFailed, "", err.Error())
		r.logger.Error().Err(err).Str("scene", rs.sceneID).Msg("automation failed")
	default:
		r.progress(rs, StageComplete, "", "")
		r.logger.Info().
			Str("scene", rs.sceneID).
			Strs("sources", rs.sourcesUsed).
			Bool("organized", rs.organized).
			Int64("duration_ms", outcome.DurationMs).
			Msg("automation complete")
	}

	if err != nil {
		return &outcome, err
	}
	return &outcome, nil
}

func (r *Runner) execute(ctx context.Context, opts RescrapeOptions, rs *runState) error {
	// Step 1: open the edit context.
	r.progress(rs, StageOpeningEdit, "", "")
	if err := r.deps.UI.EnsureEditContext(ctx, r.tok, r.policy.EditContextTimeout); err != nil {
		if errors.Is(err, dom.ErrCancelled) {
			return ErrRunCancelled
		}
		return fmt.Errorf("%w: %v", ErrEditContextUnavailable, err)
	}

	// Step 2: snapshot identity. Every later step re-validates it.
	sceneID, err := r.deps.Locator.CurrentSceneID(ctx)
	if err != nil {
		return fmt.Errorf("locate scene: %w", err)
	}
	if sceneID == "" {
		return errors.New("no scene in view")
	}
	url, err := r.deps.Locator.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("read url: %w", err)
	}
	rs.sceneID, rs.url = sceneID, url

	if scene, err := r.deps.Scenes.FindScene(ctx, sceneID); err == nil {
		rs.scene = scene
		rs.sceneName = scene.Title
	}

	// Step 3: determine work.
	r.progress(rs, StageCheckingStatus, "", "")
	if pre, err := r.deps.Tracker.Detect(ctx); err == nil {
		rs.preStatus = pre
	} else {
		r.logger.Warn().Err(err).Msg("status detection failed, assuming nothing scraped")
	}
	needed := r.neededSources(opts, rs)
	if len(needed) == 0 {
		r.logger.Info().Str("scene", sceneID).Msg("nothing to scrape")
	}

	// Step 4: per-source scrape loop, fixed order.
	for _, source := range needed {
		if r.tok.Cancelled() {
			return ErrRunCancelled
		}
		if r.tok.ConsumeSkip() {
			rs.warn(source, "skipped by user")
			continue
		}
		if err := r.checkIdentity(ctx, rs); err != nil {
			return err
		}

		r.progress(rs, StageScraping, source, "")
		if err := r.deps.UI.TriggerScrape(ctx, r.tok, r.policy.menuLabel(source)); err != nil {
			if fatal := r.classifyWaitErr(err); fatal != nil {
				return fatal
			}
			rs.warn(source, fmt.Sprintf("scrape trigger: %v", err))
			continue
		}
		if err := r.checkIdentity(ctx, rs); err != nil {
			return err
		}

		out, err := dom.PollOutcome(ctx, r.tok, r.deps.UI, dom.PollOpts{
			Timeout: r.policy.OutcomeTimeout,
			Phrases: r.policy.NegativePhrases,
		})
		if err != nil {
			if fatal := r.classifyWaitErr(err); fatal != nil {
				return fatal
			}
			rs.warn(source, fmt.Sprintf("outcome poll: %v", err))
			continue
		}
		if !out.Found {
			rs.warn(source, "not found: "+out.Reason)
			continue
		}

		if r.policy.CreatePerformers {
			n, err := r.deps.UI.CreateMissingEntities(ctx, r.tok)
			if err != nil {
				if fatal := r.classifyWaitErr(err); fatal != nil {
					return fatal
				}
				rs.warn(source, fmt.Sprintf("create entities: %v", err))
			}
			rs.performersCreated += n
		}

		decision, err := r.applyScraped(ctx, rs, source)
		if err != nil {
			return err
		}
		switch decision {
		case DecisionCancel:
			return ErrRunCancelled
		case DecisionSkip:
			rs.warn(source, "not applied")
		case DecisionApply:
			rs.sourcesUsed = append(rs.sourcesUsed, source)
		}
	}

	if r.tok.Cancelled() {
		return ErrRunCancelled
	}
	if err := r.checkIdentity(ctx, rs); err != nil {
		return err
	}

	// Step 5: initial save, then a fast organize pass before any
	// status refresh. Organizing right after save usually works in
	// one motion in the host UI.
	r.progress(rs, StageSaving, "", "")
	if err := r.deps.UI.Save(ctx, r.tok); err != nil {
		if fatal := r.classifyWaitErr(err); fatal != nil {
			return fatal
		}
		return fmt.Errorf("save: %w", err)
	}
	if err := r.checkIdentity(ctx, rs); err != nil {
		return err
	}
	if r.organizeEligible(rs) {
		if on, err := r.deps.UI.OrganizedActive(ctx); err == nil && on {
			rs.organized = true
		} else if err == nil {
			if err := r.deps.UI.ClickOrganize(ctx, r.tok); err == nil {
				rs.organized = true
			}
		}
	}

	// Step 6: organize decision against a fresh authoritative read.
	r.invalidate(rs.sceneID)
	if res := r.deps.Detector.DetectOrganized(ctx, rs.sceneID, nil); res.Found {
		rs.organized = true
	}
	if !rs.organized && r.organizeEligible(rs) {
		if err := r.checkIdentity(ctx, rs); err != nil {
			return err
		}
		r.progress(rs, StageOrganizing, "", "")
		if err := r.deps.UI.ClickOrganize(ctx, r.tok); err != nil {
			if fatal := r.classifyWaitErr(err); fatal != nil {
				return fatal
			}
			rs.warn("organize", err.Error())
			return nil
		}
		_ = dom.Settle(ctx, 300*time.Millisecond)
		if on, err := r.deps.UI.OrganizedActive(ctx); err == nil {
			rs.organized = on
		} else {
			rs.organized = true
		}
		if err := r.checkIdentity(ctx, rs); err != nil {
			return err
		}
		if err := r.deps.UI.Save(ctx, r.tok); err != nil {
			if fatal := r.classifyWaitErr(err); fatal != nil {
				return fatal
			}
			rs.warn("organize", fmt.Sprintf("second save: %v", err))
		}
	}
	return nil
}

// neededSources computes which sources this run scrapes, honoring the
// force-rescrape override and the skip-already-scraped setting.
func (r *Runner) neededSources(opts RescrapeOptions, rs *runState) []string {
	if opts.ForceRescrape {
		var out []string
		if opts.RescrapeStashDB {
			out = append(out, detect.SourceStashDB)
		}
		if opts.RescrapeThePornDB {
			out = append(out, detect.SourceThePornDB)
		}
		return out
	}

	enabled := r.policy.sources()
	if !r.policy.SkipAlreadyScraped || rs.preStatus == nil {
		return enabled
	}
	var out []string
	for _, source := range enabled {
		if !sourceScraped(rs.preStatus, source) {
			out = append(out, source)
		}
	}
	return out
}

// applyScraped runs the apply/confirm sub-protocol for one source.
func (r *Runner) applyScraped(ctx context.Context, rs *runState, source string) (Decision, error) {
	snap, err := r.deps.UI.CollectSnapshot(ctx)
	if err != nil {
		r.logger.Debug().Err(err).Msg("snapshot collection failed")
		snap = &dom.Snapshot{}
	}
	r.gateThumbnail(rs, snap)

	decision := DecisionApply
	if !r.policy.AutoApply {
		decision, err = r.deps.Confirmer.Confirm(ctx, rs.sceneID, source, snap)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return DecisionCancel, nil
			}
			// Confirmation transport failure must not write data.
			r.logger.Warn().Err(err).Str("source", source).Msg("confirmation failed, skipping source")
			return DecisionSkip, nil
		}
	}
	if decision != DecisionApply {
		return decision, nil
	}

	applied, err := r.deps.UI.ClickApply(ctx, r.tok)
	if err != nil {
		if fatal := r.classifyWaitErr(err); fatal != nil {
			return DecisionCancel, fatal
		}
		r.logger.Warn().Err(err).Str("source", source).Msg("apply failed")
		return DecisionSkip, nil
	}
	if !applied {
		return DecisionSkip, nil
	}
	return DecisionApply, nil
}

// gateThumbnail drops the scraped thumbnail unless it beats the
// current one by the policy margin, or no current thumbnail exists.
func (r *Runner) gateThumbnail(rs *runState, snap *dom.Snapshot) {
	if snap.ThumbnailURL == "" {
		return
	}
	if rs.scene == nil || rs.scene.Paths.Screenshot == "" {
		return
	}
	current := 0
	if len(rs.scene.Files) > 0 {
		current = rs.scene.Files[0].Width * rs.scene.Files[0].Height
	}
	if current <= 0 {
		return
	}
	required := current * (100 + r.policy.ThumbnailImprovementPct) / 100
	if snap.ThumbnailPixels() < required {
		snap.DropThumbnail()
	}
}

// organizeEligible applies the gating policy: organize only when the
// scene is fully enriched.
func (r *Runner) organizeEligible(rs *runState) bool {
	if !r.policy.AutoOrganize {
		return false
	}
	enabled := r.policy.sources()
	if len(enabled) == 0 {
		return false
	}
	covered := 0
	for _, source := range enabled {
		if slices.Contains(rs.sourcesUsed, source) || sourceScraped(rs.preStatus, source) {
			covered++
		}
	}
	if r.policy.OrganizeRequiresAll {
		return covered == len(enabled)
	}
	return covered > 0
}

// checkIdentity verifies the page has not navigated since the run
// started.
func (r *Runner) checkIdentity(ctx context.Context, rs *runState) error {
	id, err := r.deps.Locator.CurrentSceneID(ctx)
	if err != nil {
		return fmt.Errorf("identity check: %w", err)
	}
	url, err := r.deps.Locator.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("identity check: %w", err)
	}
	if id != rs.sceneID || url != rs.url {
		return fmt.Errorf("%w: now at %s", ErrNavigationDuringAutomation, url)
	}
	return nil
}

// classifyWaitErr maps cooperative-flag errors from DOM waits to the
// run-level decision: cancellation is fatal, everything else is the
// caller's to absorb. A pending skip is consumed so it only covers the
// step it interrupted.
func (r *Runner) classifyWaitErr(err error) error {
	if errors.Is(err, dom.ErrCancelled) {
		return ErrRunCancelled
	}
	if errors.Is(err, dom.ErrSkipped) {
		r.tok.ConsumeSkip()
	}
	return nil
}

func (r *Runner) invalidate(sceneID string) {
	r.deps.Scenes.InvalidateScene(sceneID)
	r.deps.Detector.Invalidate(sceneID)
	r.deps.Tracker.Invalidate()
}

func (r *Runner) progress(rs *runState, stage, source, msg string) {
	if r.deps.Progress == nil {
		return
	}
	r.deps.Progress.PublishProgress(Progress{
		SceneID: rs.sceneID,
		Stage:   stage,
		Source:  source,
		Message: msg,
	})
}

func (rs *runState) warn(scope, msg string) {
	rs.warnings = append(rs.warnings, scope+": "+msg)
}

func sourceScraped(st *status.SceneStatus, source string) bool {
	if st == nil {
		return false
	}
	switch source {
	case detect.SourceStashDB:
		return st.StashDB.Scraped
	case detect.SourceThePornDB:
		return st.ThePornDB.Scraped
	}
	return false
}
