package stash

// StashID links a scene to an external metadata endpoint.
type StashID struct {
	Endpoint string `json:"endpoint"`
	StashID  string `json:"stash_id"`
}

// SceneFile carries the dimensions of a scene's primary file.
type SceneFile struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ScenePaths holds server-generated asset URLs for a scene.
type ScenePaths struct {
	Screenshot string `json:"screenshot"`
}

// Scene is the subset of the scene record the agent needs: external
// identifiers, the organized flag, and the thumbnail location.
type Scene struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Organized bool        `json:"organized"`
	StashIDs  []StashID   `json:"stash_ids"`
	URLs      []string    `json:"urls"`
	Paths     ScenePaths  `json:"paths"`
	Files     []SceneFile `json:"files"`
}

// DuplicateGroup is one set of scenes the server considers duplicates.
type DuplicateGroup []Scene

// Version identifies the host application build.
type Version struct {
	Version string `json:"version"`
	Hash    string `json:"hash"`
}
