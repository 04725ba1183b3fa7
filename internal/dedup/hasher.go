// Package dedup computes perceptual hashes of scene thumbnails and
// surfaces likely-duplicate scenes by combining stored hash distances
// with the host application's own duplicate finder.
package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/rs/zerolog"

	"github.com/scenepilot/scenepilot/internal/stash"
)

var (
	ErrNoScreenshot = errors.New("scene has no screenshot")
	ErrNoHash       = errors.New("no stored hash for scene")
)

// SceneAPI is the slice of the wire client dedup needs.
type SceneAPI interface {
	FindScene(ctx context.Context, id string) (*stash.Scene, error)
	FindDuplicateScenes(ctx context.Context, distance int) ([]stash.DuplicateGroup, error)
	MergeScenes(ctx context.Context, sourceIDs []string, destinationID string) error
}

// Candidate is a pair of scenes whose thumbnails hash close together.
type Candidate struct {
	SceneA   string `json:"sceneA"`
	SceneB   string `json:"sceneB"`
	Distance int    `json:"distance"`
}

// Hasher stores dHash values of scene screenshots.
type Hasher struct {
	db     *sql.DB
	api    SceneAPI
	http   *http.Client
	apiKey string
	logger zerolog.Logger
}

// NewHasher creates a Hasher.
func NewHasher(db *sql.DB, api SceneAPI, apiKey string, logger zerolog.Logger) *Hasher {
	return &Hasher{
		db:     db,
		api:    api,
		http:   &http.Client{Timeout: 15 * time.Second},
		apiKey: apiKey,
		logger: logger.With().Str("component", "dedup").Logger(),
	}
}

// HashScene fetches the scene's screenshot, computes its difference
// hash and stores it. Called best-effort after each successful
// automation run.
func (h *Hasher) HashScene(ctx context.Context, sceneID string) error {
	scene, err := h.api.FindScene(ctx, sceneID)
	if err != nil {
		return fmt.Errorf("fetch scene: %w", err)
	}
	if scene.Paths.Screenshot == "" {
		return ErrNoScreenshot
	}

	img, err := h.fetchImage(ctx, scene.Paths.Screenshot)
	if err != nil {
		return err
	}

	hash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return fmt.Errorf("hash screenshot: %w", err)
	}

	bounds := img.Bounds()
	_, err = h.db.ExecContext(ctx, `
		INSERT INTO scene_hashes (scene_id, hash, width, height, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scene_id) DO UPDATE SET
			hash = excluded.hash,
			width = excluded.width,
			height = excluded.height,
			updated_at = excluded.updated_at`,
		sceneID, int64(hash.GetHash()), bounds.Dx(), bounds.Dy(), time.Now())
	if err != nil {
		return fmt.Errorf("store hash: %w", err)
	}

	h.logger.Debug().Str("scene", sceneID).Msg("stored thumbnail hash")
	return nil
}

func (h *Hasher) fetchImage(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if h.apiKey != "" {
		req.Header.Set("ApiKey", h.apiKey)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch screenshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch screenshot: status %d", resp.StatusCode)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

// Distance returns the hamming distance between two scenes' stored
// hashes.
func (h *Hasher) Distance(ctx context.Context, sceneA, sceneB string) (int, error) {
	ha, err := h.stored(ctx, sceneA)
	if err != nil {
		return 0, err
	}
	hb, err := h.stored(ctx, sceneB)
	if err != nil {
		return 0, err
	}
	return ha.Distance(hb)
}

func (h *Hasher) stored(ctx context.Context, sceneID string) (*goimagehash.ImageHash, error) {
	var raw int64
	err := h.db.QueryRowContext(ctx,
		`SELECT hash FROM scene_hashes WHERE scene_id = ?`, sceneID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoHash, sceneID)
	}
	if err != nil {
		return nil, fmt.Errorf("load hash: %w", err)
	}
	return goimagehash.NewImageHash(uint64(raw), goimagehash.DHash), nil
}

// Finder combines local hash distances with the remote duplicate
// finder and performs merges.
type Finder struct {
	db     *sql.DB
	api    SceneAPI
	logger zerolog.Logger
}

// NewFinder creates a Finder.
func NewFinder(db *sql.DB, api SceneAPI, logger zerolog.Logger) *Finder {
	return &Finder{
		db:     db,
		api:    api,
		logger: logger.With().Str("component", "dedup").Logger(),
	}
}

// FindCandidates pairs up scenes whose stored hashes are within
// maxDistance, then unions in the host application's duplicate finder.
func (f *Finder) FindCandidates(ctx context.Context, maxDistance int) ([]Candidate, error) {
	rows, err := f.db.QueryContext(ctx, `SELECT scene_id, hash FROM scene_hashes ORDER BY scene_id`)
	if err != nil {
		return nil, fmt.Errorf("load hashes: %w", err)
	}
	defer rows.Close()

	type stored struct {
		id   string
		hash *goimagehash.ImageHash
	}
	var all []stored
	for rows.Next() {
		var id string
		var raw int64
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		all = append(all, stored{id: id, hash: goimagehash.NewImageHash(uint64(raw), goimagehash.DHash)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	seen := make(map[[2]string]bool)
	var out []Candidate
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			d, err := all[i].hash.Distance(all[j].hash)
			if err != nil {
				continue
			}
			if d <= maxDistance {
				out = append(out, Candidate{SceneA: all[i].id, SceneB: all[j].id, Distance: d})
				seen[[2]string{all[i].id, all[j].id}] = true
			}
		}
	}

	// The host app hashes full video frames, not just thumbnails, so
	// its finder catches pairs we cannot.
	groups, err := f.api.FindDuplicateScenes(ctx, maxDistance)
	if err != nil {
		f.logger.Warn().Err(err).Msg("remote duplicate finder unavailable")
		return out, nil
	}
	for _, group := range groups {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				key := [2]string{group[i].ID, group[j].ID}
				rev := [2]string{group[j].ID, group[i].ID}
				if seen[key] || seen[rev] {
					continue
				}
				seen[key] = true
				out = append(out, Candidate{SceneA: group[i].ID, SceneB: group[j].ID, Distance: -1})
			}
		}
	}
	return out, nil
}

// Merge folds the source scenes into the destination and drops their
// stale hashes.
func (f *Finder) Merge(ctx context.Context, sourceIDs []string, destinationID string) error {
	if err := f.api.MergeScenes(ctx, sourceIDs, destinationID); err != nil {
		return fmt.Errorf("merge scenes: %w", err)
	}
	for _, id := range sourceIDs {
		if _, err := f.db.ExecContext(ctx, `DELETE FROM scene_hashes WHERE scene_id = ?`, id); err != nil {
			f.logger.Warn().Err(err).Str("scene", id).Msg("failed to drop merged scene hash")
		}
	}
	return nil
}
