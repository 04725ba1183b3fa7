// Package detect determines whether a scene has already been matched
// to an external metadata source, and whether it is organized. API
// answers are authoritative (confidence 100); DOM heuristics are the
// fallback and never score that high.
package detect

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/scenepilot/scenepilot/internal/stash"
)

// Source names, in the fixed order the orchestrator visits them.
const (
	SourceStashDB   = "stashdb"
	SourceThePornDB = "theporndb"
)

// Confidence levels per detection strategy. Only the authoritative
// query path may produce 100.
const (
	ConfidenceAPI       = 100
	ConfidenceMarker    = 85
	ConfidenceCSS       = 60
	ConfidenceText      = 40
	ConfidenceOrganized = 70 // organized toggle state read from the DOM
)

// Result is the outcome of one detection. found=false implies a nil
// Data map; a Result is never partially populated.
type Result struct {
	Found      bool              `json:"found"`
	Confidence int               `json:"confidence"`
	Strategy   string            `json:"strategy"`
	Data       map[string]string `json:"data,omitempty"`
}

func notFound() Result {
	return Result{Found: false, Confidence: 0, Strategy: "none"}
}

// SceneFetcher is the authoritative read the detector prefers.
type SceneFetcher interface {
	FindScene(ctx context.Context, id string) (*stash.Scene, error)
}

// DOMReader serialises the current page for heuristic scanning.
type DOMReader interface {
	HTML(ctx context.Context) (string, error)
}

// OrganizedProbe reads the organize toggle's pressed state.
type OrganizedProbe interface {
	OrganizedActive(ctx context.Context) (bool, error)
}

// Detector resolves per-source scraped state and the organized flag.
// Results are cached per scene+source until the orchestrator performs
// a mutation and invalidates.
type Detector struct {
	fetcher   SceneFetcher
	reader    DOMReader
	organized OrganizedProbe
	cache     *lru.Cache[string, Result]
	logger    zerolog.Logger
}

// New creates a Detector. reader and organized may be nil, which skips
// DOM fallbacks (API-only mode).
func New(fetcher SceneFetcher, reader DOMReader, organized OrganizedProbe, logger zerolog.Logger) *Detector {
	cache, _ := lru.New[string, Result](512)
	return &Detector{
		fetcher:   fetcher,
		reader:    reader,
		organized: organized,
		cache:     cache,
		logger:    logger.With().Str("component", "detect").Logger(),
	}
}

// DetectStashDB resolves whether the scene is matched to StashDB.
// A pre-fetched scene avoids the network round-trip; pass nil to let
// the detector fetch (or reuse its cache).
func (d *Detector) DetectStashDB(ctx context.Context, sceneID string, prefetched *stash.Scene) Result {
	return d.detectSource(ctx, sceneID, SourceStashDB, prefetched)
}

// DetectThePornDB resolves whether the scene is matched to ThePornDB.
func (d *Detector) DetectThePornDB(ctx context.Context, sceneID string, prefetched *stash.Scene) Result {
	return d.detectSource(ctx, sceneID, SourceThePornDB, prefetched)
}

func (d *Detector) detectSource(ctx context.Context, sceneID, source string, prefetched *stash.Scene) Result {
	key := sceneID + ":" + source
	if prefetched == nil {
		if cached, ok := d.cache.Get(key); ok {
			return cached
		}
	}

	scene := prefetched
	if scene == nil {
		var err error
		scene, err = d.fetcher.FindScene(ctx, sceneID)
		if err != nil {
			d.logger.Debug().Err(err).Str("scene", sceneID).Str("source", source).
				Msg("authoritative query failed, falling back to DOM heuristics")
			scene = nil
		}
	}

	var res Result
	if scene != nil {
		res = matchScene(scene, source)
	} else {
		res = d.domFallback(ctx, source)
	}

	d.cache.Add(key, res)
	return res
}

// matchScene derives the answer from an authoritative scene record.
func matchScene(scene *stash.Scene, source string) Result {
	for _, sid := range scene.StashIDs {
		if endpointMatches(sid.Endpoint, source) {
			return Result{
				Found:      true,
				Confidence: ConfidenceAPI,
				Strategy:   "graphql_stash_ids",
				Data:       map[string]string{"endpoint": sid.Endpoint, "stash_id": sid.StashID},
			}
		}
	}
	for _, u := range scene.URLs {
		if endpointMatches(u, source) {
			return Result{
				Found:      true,
				Confidence: ConfidenceAPI,
				Strategy:   "graphql_urls",
				Data:       map[string]string{"url": u},
			}
		}
	}
	return notFound()
}

// endpointMatches reports whether an endpoint or URL belongs to the
// given source.
func endpointMatches(endpoint, source string) bool {
	lower := strings.ToLower(endpoint)
	switch source {
	case SourceStashDB:
		return strings.Contains(lower, "stashdb.org")
	case SourceThePornDB:
		return strings.Contains(lower, "theporndb") || strings.Contains(lower, "metadataapi.net")
	}
	return false
}

// DetectOrganized resolves the organized flag, preferring the API.
func (d *Detector) DetectOrganized(ctx context.Context, sceneID string, prefetched *stash.Scene) Result {
	key := sceneID + ":organized"
	if prefetched == nil {
		if cached, ok := d.cache.Get(key); ok {
			return cached
		}
	}

	scene := prefetched
	if scene == nil {
		var err error
		scene, err = d.fetcher.FindScene(ctx, sceneID)
		if err != nil {
			scene = nil
		}
	}

	var res Result
	switch {
	case scene != nil:
		res = Result{
			Found:      scene.Organized,
			Confidence: ConfidenceAPI,
			Strategy:   "graphql_organized",
		}
	case d.organized != nil:
		active, err := d.organized.OrganizedActive(ctx)
		if err != nil {
			res = notFound()
		} else {
			res = Result{Found: active, Confidence: ConfidenceOrganized, Strategy: "dom_toggle_state"}
		}
	default:
		res = notFound()
	}

	d.cache.Add(key, res)
	return res
}

// Invalidate drops the cached results for one scene. The orchestrator
// calls this after every save/organize mutation.
func (d *Detector) Invalidate(sceneID string) {
	d.cache.Remove(sceneID + ":" + SourceStashDB)
	d.cache.Remove(sceneID + ":" + SourceThePornDB)
	d.cache.Remove(sceneID + ":organized")
}
