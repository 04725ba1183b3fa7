package dom

// Snapshot is the structured view of the scraped field values rendered
// in the comparison dialog, collected before asking for confirmation.
// Every field is optional; absent fields stay zero.
type Snapshot struct {
	Title      string   `json:"title,omitempty"`
	Date       string   `json:"date,omitempty"`
	Studio     string   `json:"studio,omitempty"`
	Performers []string `json:"performers,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Details    string   `json:"details,omitempty"`
	URL        string   `json:"url,omitempty"`
	Group      string   `json:"group,omitempty"`

	ThumbnailURL    string `json:"thumbnailUrl,omitempty"`
	ThumbnailWidth  int    `json:"thumbnailWidth,omitempty"`
	ThumbnailHeight int    `json:"thumbnailHeight,omitempty"`
}

// ThumbnailPixels returns the scraped thumbnail's pixel count.
func (s *Snapshot) ThumbnailPixels() int {
	return s.ThumbnailWidth * s.ThumbnailHeight
}

// DropThumbnail removes the thumbnail from the snapshot.
func (s *Snapshot) DropThumbnail() {
	s.ThumbnailURL = ""
	s.ThumbnailWidth = 0
	s.ThumbnailHeight = 0
}

// IsEmpty reports whether nothing usable was scraped.
func (s *Snapshot) IsEmpty() bool {
	return s.Title == "" && s.Date == "" && s.Studio == "" &&
		len(s.Performers) == 0 && len(s.Tags) == 0 &&
		s.Details == "" && s.URL == "" && s.Group == "" &&
		s.ThumbnailURL == ""
}
