package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/scenepilot/scenepilot/internal/stash"
	"github.com/scenepilot/scenepilot/internal/testutil"
)

type fakeFetcher struct {
	scene *stash.Scene
	err   error
	calls int
}

func (f *fakeFetcher) FindScene(ctx context.Context, id string) (*stash.Scene, error) {
	f.calls++
	return f.scene, f.err
}

type fakeReader struct {
	html string
	err  error
}

func (f *fakeReader) HTML(ctx context.Context) (string, error) {
	return f.html, f.err
}

func sceneWith(endpoint, stashID string, organized bool) *stash.Scene {
	return &stash.Scene{
		ID:        "42",
		Organized: organized,
		StashIDs:  []stash.StashID{{Endpoint: endpoint, StashID: stashID}},
	}
}

func TestDetectStashDB_AuthoritativeIsAlways100(t *testing.T) {
	// Even with a DOM that would also match, the query path must win
	// and score exactly 100.
	scene := sceneWith("https://stashdb.org/graphql", "abcd-1234", false)
	reader := &fakeReader{html: `<a href="https://stashdb.org/scenes/xyz">link</a>`}
	d := New(&fakeFetcher{scene: scene}, reader, nil, testutil.NewTestLogger(t))

	res := d.DetectStashDB(context.Background(), "42", nil)
	if !res.Found {
		t.Fatal("Found = false, want true")
	}
	if res.Confidence != ConfidenceAPI {
		t.Errorf("Confidence = %d, want %d", res.Confidence, ConfidenceAPI)
	}
	if res.Strategy != "graphql_stash_ids" {
		t.Errorf("Strategy = %q, want graphql_stash_ids", res.Strategy)
	}
	if res.Data["stash_id"] != "abcd-1234" {
		t.Errorf("Data stash_id = %q, want abcd-1234", res.Data["stash_id"])
	}
}

func TestDetectStashDB_PrefetchedSceneSkipsFetch(t *testing.T) {
	fetcher := &fakeFetcher{}
	d := New(fetcher, nil, nil, testutil.NewTestLogger(t))

	scene := sceneWith("https://stashdb.org/graphql", "id-1", false)
	res := d.DetectStashDB(context.Background(), "42", scene)
	if !res.Found {
		t.Fatal("Found = false, want true")
	}
	if fetcher.calls != 0 {
		t.Errorf("FindScene called %d times with prefetched scene, want 0", fetcher.calls)
	}
}

func TestDetectThePornDB_URLFallbackOnRecord(t *testing.T) {
	scene := &stash.Scene{ID: "42", URLs: []string{"https://metadataapi.net/scenes/99"}}
	d := New(&fakeFetcher{scene: scene}, nil, nil, testutil.NewTestLogger(t))

	res := d.DetectThePornDB(context.Background(), "42", nil)
	if !res.Found || res.Confidence != ConfidenceAPI || res.Strategy != "graphql_urls" {
		t.Errorf("got %+v, want found at confidence 100 via graphql_urls", res)
	}
}

func TestDetect_NotFoundHasNilData(t *testing.T) {
	scene := &stash.Scene{ID: "42"}
	d := New(&fakeFetcher{scene: scene}, nil, nil, testutil.NewTestLogger(t))

	res := d.DetectStashDB(context.Background(), "42", nil)
	if res.Found {
		t.Fatal("Found = true, want false")
	}
	if res.Confidence != 0 {
		t.Errorf("Confidence = %d, want 0", res.Confidence)
	}
	if res.Data != nil {
		t.Errorf("Data = %v, want nil when not found", res.Data)
	}
}

func TestDetect_DOMFallbackChain(t *testing.T) {
	apiDown := &fakeFetcher{err: errors.New("connection refused")}

	tests := []struct {
		name       string
		html       string
		confidence int
		strategy   string
	}{
		{
			name:       "marker attribute",
			html:       `<div data-stashdb-id="uuid-1"></div><a href="https://stashdb.org/scenes/x">x</a>`,
			confidence: ConfidenceMarker,
			strategy:   "dom_marker_attribute",
		},
		{
			name:       "link convention",
			html:       `<div class="detail-item"><a href="https://stashdb.org/scenes/a1b2">ext</a></div>`,
			confidence: ConfidenceCSS,
			strategy:   "dom_link_convention",
		},
		{
			name:       "free text",
			html:       `<p>matched to stashdb.org/scenes/0123456789ab-cdef-0123-4567-89abcdef0123 yesterday</p>`,
			confidence: ConfidenceText,
			strategy:   "dom_text_pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(apiDown, &fakeReader{html: tt.html}, nil, testutil.NewTestLogger(t))
			res := d.DetectStashDB(context.Background(), "42", nil)
			if !res.Found {
				t.Fatal("Found = false, want true")
			}
			if res.Confidence != tt.confidence {
				t.Errorf("Confidence = %d, want %d", res.Confidence, tt.confidence)
			}
			if res.Strategy != tt.strategy {
				t.Errorf("Strategy = %q, want %q", res.Strategy, tt.strategy)
			}
			if res.Confidence >= ConfidenceAPI {
				t.Error("DOM heuristics must never reach authoritative confidence")
			}
		})
	}
}

func TestDetect_AllHeuristicsMiss(t *testing.T) {
	apiDown := &fakeFetcher{err: errors.New("network down")}
	d := New(apiDown, &fakeReader{html: "<html><body>nothing here</body></html>"}, nil, testutil.NewTestLogger(t))

	res := d.DetectStashDB(context.Background(), "42", nil)
	if res.Found || res.Confidence != 0 || res.Data != nil {
		t.Errorf("got %+v, want clean not-found", res)
	}
}

func TestDetectOrganized_Authoritative(t *testing.T) {
	d := New(&fakeFetcher{scene: sceneWith("https://stashdb.org", "x", true)}, nil, nil, testutil.NewTestLogger(t))

	res := d.DetectOrganized(context.Background(), "42", nil)
	if !res.Found || res.Confidence != ConfidenceAPI {
		t.Errorf("got %+v, want organized at confidence 100", res)
	}
}

func TestDetect_CacheAndInvalidate(t *testing.T) {
	fetcher := &fakeFetcher{scene: sceneWith("https://stashdb.org", "x", false)}
	d := New(fetcher, nil, nil, testutil.NewTestLogger(t))
	ctx := context.Background()

	d.DetectStashDB(ctx, "42", nil)
	d.DetectStashDB(ctx, "42", nil)
	if fetcher.calls != 1 {
		t.Errorf("FindScene calls = %d, want 1 (second read cached)", fetcher.calls)
	}

	d.Invalidate("42")
	d.DetectStashDB(ctx, "42", nil)
	if fetcher.calls != 2 {
		t.Errorf("FindScene calls after invalidate = %d, want 2", fetcher.calls)
	}
}
