package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/scenepilot/scenepilot/internal/detect"
	"github.com/scenepilot/scenepilot/internal/history"
	"github.com/scenepilot/scenepilot/internal/stash"
)

type fakeLocator struct {
	id  string
	err error
}

func (f *fakeLocator) CurrentSceneID(ctx context.Context) (string, error) {
	return f.id, f.err
}

type fakeFetcher struct {
	scene *stash.Scene
	err   error
	calls int
}

func (f *fakeFetcher) FindScene(ctx context.Context, id string) (*stash.Scene, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.scene, nil
}

type fakeOutcomes struct {
	latest *history.Outcome
}

func (f *fakeOutcomes) Latest(ctx context.Context, sceneID string) (*history.Outcome, error) {
	if f.latest == nil {
		return nil, errors.New("none")
	}
	return f.latest, nil
}

func matchedScene(id string) *stash.Scene {
	return &stash.Scene{
		ID:        id,
		Organized: true,
		StashIDs: []stash.StashID{
			{Endpoint: "https://stashdb.org/graphql", StashID: "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"},
			{Endpoint: "https://theporndb.net/graphql", StashID: "42"},
		},
	}
}

func newTracker(loc *fakeLocator, fetch *fakeFetcher, out LatestOutcome) *Tracker {
	det := detect.New(fetch, nil, nil, zerolog.Nop())
	return NewTracker(loc, fetch, det, out, zerolog.Nop())
}

func TestDetectSharesOneFetch(t *testing.T) {
	fetch := &fakeFetcher{scene: matchedScene("7")}
	tr := newTracker(&fakeLocator{id: "7"}, fetch, nil)

	st, err := tr.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	// Three detector calls plus the tracker's own read, one fetch.
	if fetch.calls != 1 {
		t.Errorf("FindScene called %d times, want 1", fetch.calls)
	}
	if !st.StashDB.Scraped || !st.ThePornDB.Scraped || !st.Organized {
		t.Errorf("unexpected status %+v", st)
	}
	if st.StashDB.Confidence != detect.ConfidenceAPI {
		t.Errorf("StashDB confidence = %d, want %d", st.StashDB.Confidence, detect.ConfidenceAPI)
	}
}

func TestDetectRepeatIsStructurallyEqual(t *testing.T) {
	fetch := &fakeFetcher{scene: matchedScene("7")}
	tr := newTracker(&fakeLocator{id: "7"}, fetch, nil)

	first, err := tr.Detect(context.Background())
	if err != nil {
		t.Fatalf("first Detect: %v", err)
	}
	second, err := tr.Detect(context.Background())
	if err != nil {
		t.Fatalf("second Detect: %v", err)
	}

	if first.StashDB.Scraped != second.StashDB.Scraped ||
		first.StashDB.Confidence != second.StashDB.Confidence ||
		first.StashDB.Strategy != second.StashDB.Strategy {
		t.Errorf("StashDB drifted: %+v vs %+v", first.StashDB, second.StashDB)
	}
	if first.ThePornDB.Scraped != second.ThePornDB.Scraped ||
		first.ThePornDB.Confidence != second.ThePornDB.Confidence ||
		first.Organized != second.Organized {
		t.Errorf("status drifted between detections: %+v vs %+v", first, second)
	}
}

func TestDetectNoScene(t *testing.T) {
	tr := newTracker(&fakeLocator{id: ""}, &fakeFetcher{}, nil)

	if _, err := tr.Detect(context.Background()); !errors.Is(err, ErrNoScene) {
		t.Errorf("err = %v, want ErrNoScene", err)
	}
}

func TestDetectAttachesLastAutomation(t *testing.T) {
	out := &fakeOutcomes{latest: &history.Outcome{
		SceneID:   "7",
		Success:   true,
		Timestamp: time.Now(),
	}}
	tr := newTracker(&fakeLocator{id: "7"}, &fakeFetcher{scene: matchedScene("7")}, out)

	st, err := tr.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if st.LastAutomation == nil || !st.LastAutomation.Success {
		t.Errorf("LastAutomation = %+v, want recorded outcome", st.LastAutomation)
	}
}

func TestSubscribersNotifiedAndPanicContained(t *testing.T) {
	tr := newTracker(&fakeLocator{id: "7"}, &fakeFetcher{scene: matchedScene("7")}, nil)

	var got *SceneStatus
	tr.Subscribe(func(st *SceneStatus) { panic("boom") })
	tr.Subscribe(func(st *SceneStatus) { got = st })

	if _, err := tr.Detect(context.Background()); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if got == nil || got.SceneID != "7" {
		t.Errorf("subscriber not notified, got %+v", got)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	tr := newTracker(&fakeLocator{id: "7"}, &fakeFetcher{scene: matchedScene("7")}, nil)

	calls := 0
	unsub := tr.Subscribe(func(st *SceneStatus) { calls++ })

	if _, err := tr.Detect(context.Background()); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	unsub()
	if _, err := tr.Detect(context.Background()); err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if calls != 1 {
		t.Errorf("subscriber called %d times after unsubscribe, want 1", calls)
	}
}

func TestUpdateOutcomeNotifiesWithoutRefetch(t *testing.T) {
	fetch := &fakeFetcher{scene: matchedScene("7")}
	tr := newTracker(&fakeLocator{id: "7"}, fetch, nil)

	if _, err := tr.Detect(context.Background()); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	before := fetch.calls

	var notified *SceneStatus
	tr.Subscribe(func(st *SceneStatus) { notified = st })

	tr.UpdateOutcome(&history.Outcome{SceneID: "7", Success: true, Organized: true})

	if fetch.calls != before {
		t.Errorf("UpdateOutcome triggered a fetch")
	}
	if notified == nil || notified.LastAutomation == nil || !notified.LastAutomation.Success {
		t.Errorf("subscriber saw %+v, want updated outcome", notified)
	}
	if !notified.Organized {
		t.Errorf("organized flag not carried from outcome")
	}
}

func TestInvalidateClearsSnapshot(t *testing.T) {
	tr := newTracker(&fakeLocator{id: "7"}, &fakeFetcher{scene: matchedScene("7")}, nil)

	if _, err := tr.Detect(context.Background()); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if tr.Current() == nil {
		t.Fatal("snapshot missing after Detect")
	}
	tr.Invalidate()
	if tr.Current() != nil {
		t.Error("snapshot survived Invalidate")
	}
}
