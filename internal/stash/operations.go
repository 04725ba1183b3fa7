package stash

import (
	"context"
	"fmt"
)

const findSceneQuery = `
query FindScene($id: ID!) {
  findScene(id: $id) {
    id
    title
    organized
    stash_ids { endpoint stash_id }
    urls
    paths { screenshot }
    files { width height }
  }
}`

const sceneUpdateMutation = `
mutation SceneUpdate($input: SceneUpdateInput!) {
  sceneUpdate(input: $input) { id organized }
}`

const findDuplicateScenesQuery = `
query FindDuplicateScenes($distance: Int) {
  findDuplicateScenes(distance: $distance) {
    id
    title
    paths { screenshot }
    files { width height }
  }
}`

const sceneMergeMutation = `
mutation SceneMerge($input: SceneMergeInput!) {
  sceneMerge(input: $input) { id }
}`

const versionQuery = `
query Version { version { version hash } }`

// FindScene fetches a scene by id. Results are cached for the
// configured short TTL; the orchestrator invalidates the entry after
// any mutation touching the scene.
func (c *Client) FindScene(ctx context.Context, id string) (*Scene, error) {
	key := "scene:" + id
	if v, ok := c.cache.Get(key); ok {
		return v.(*Scene), nil
	}

	var resp struct {
		FindScene *Scene `json:"findScene"`
	}
	if err := c.Query(ctx, findSceneQuery, map[string]any{"id": id}, &resp); err != nil {
		return nil, fmt.Errorf("find scene %s: %w", id, err)
	}
	if resp.FindScene == nil {
		return nil, ErrSceneNotFound
	}

	c.cache.Set(key, resp.FindScene)
	return resp.FindScene, nil
}

// UpdateScene applies a partial update. The input map must contain the
// scene "id" plus the fields to change (e.g. "organized").
func (c *Client) UpdateScene(ctx context.Context, input map[string]any) error {
	if err := c.Mutate(ctx, sceneUpdateMutation, map[string]any{"input": input}, nil); err != nil {
		return fmt.Errorf("scene update: %w", err)
	}
	if id, ok := input["id"].(string); ok {
		c.InvalidateScene(id)
	}
	return nil
}

// SetOrganized flips the organized flag through the API.
func (c *Client) SetOrganized(ctx context.Context, sceneID string, organized bool) error {
	return c.UpdateScene(ctx, map[string]any{"id": sceneID, "organized": organized})
}

// FindDuplicateScenes asks the server for phash-duplicate groups at the
// given hamming distance.
func (c *Client) FindDuplicateScenes(ctx context.Context, distance int) ([]DuplicateGroup, error) {
	var resp struct {
		FindDuplicateScenes []DuplicateGroup `json:"findDuplicateScenes"`
	}
	if err := c.Query(ctx, findDuplicateScenesQuery, map[string]any{"distance": distance}, &resp); err != nil {
		return nil, fmt.Errorf("find duplicate scenes: %w", err)
	}
	return resp.FindDuplicateScenes, nil
}

// MergeScenes merges source scenes into destination, as the host
// application defines merging. Cached reads for every involved scene
// are invalidated.
func (c *Client) MergeScenes(ctx context.Context, sourceIDs []string, destinationID string) error {
	input := map[string]any{
		"source":      sourceIDs,
		"destination": destinationID,
	}
	if err := c.Mutate(ctx, sceneMergeMutation, map[string]any{"input": input}, nil); err != nil {
		return fmt.Errorf("scene merge: %w", err)
	}
	for _, id := range sourceIDs {
		c.InvalidateScene(id)
	}
	c.InvalidateScene(destinationID)
	return nil
}

// Test verifies connectivity by fetching the server version.
func (c *Client) Test(ctx context.Context) (*Version, error) {
	var resp struct {
		Version *Version `json:"version"`
	}
	if err := c.Query(ctx, versionQuery, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Version, nil
}
