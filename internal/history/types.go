package history

import "time"

// Outcome is one automation run's result. Immutable once recorded.
type Outcome struct {
	ID                int64     `json:"id,omitempty"`
	SceneID           string    `json:"sceneId"`
	SceneName         string    `json:"sceneName,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	Success           bool      `json:"success"`
	SourcesUsed       []string  `json:"sourcesUsed"`
	Errors            []string  `json:"errors"`
	DurationMs        int64     `json:"durationMs"`
	Organized         bool      `json:"organized"`
	PerformersCreated int       `json:"performersCreated"`
	FieldsUpdated     []string  `json:"fieldsUpdated,omitempty"`
}

// Stats aggregates the stored history.
type Stats struct {
	Total         int            `json:"total"`
	Successes     int            `json:"successes"`
	Failures      int            `json:"failures"`
	SuccessRate   float64        `json:"successRate"`
	AvgDurationMs int64          `json:"avgDurationMs"`
	Organized     int            `json:"organized"`
	BySource      map[string]int `json:"bySource"`
}

// ListOptions filters and pages history reads.
type ListOptions struct {
	SceneID  string
	Page     int
	PageSize int
}

// ListResponse contains paginated history results, most recent first.
type ListResponse struct {
	Items      []*Outcome `json:"items"`
	Page       int        `json:"page"`
	PageSize   int        `json:"pageSize"`
	TotalCount int64      `json:"totalCount"`
	TotalPages int        `json:"totalPages"`
}

// Export is the interchange shape: entries plus aggregate statistics.
type Export struct {
	ExportedAt time.Time  `json:"exportedAt"`
	Stats      Stats      `json:"stats"`
	Entries    []*Outcome `json:"entries"`
}
