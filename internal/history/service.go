// Package history keeps the append-only log of automation run
// outcomes: capped retention, statistics, and import/export.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLimit caps the stored history when no limit is configured.
const DefaultLimit = 100

var ErrInvalidEntry = errors.New("invalid history entry")

// Service provides history management functionality.
type Service struct {
	db     *sql.DB
	limit  int
	logger zerolog.Logger
}

// NewService creates a new history service. limit <= 0 uses DefaultLimit.
func NewService(db *sql.DB, limit int, logger zerolog.Logger) *Service {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{
		db:     db,
		limit:  limit,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// Record appends an outcome and enforces the retention cap. Trimming
// is FIFO by insertion order, not by timestamp: imported back-dated
// entries age out in arrival order like everything else.
func (s *Service) Record(ctx context.Context, o Outcome) (*Outcome, error) {
	if o.SceneID == "" {
		return nil, fmt.Errorf("%w: scene id is required", ErrInvalidEntry)
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now().UTC()
	}

	sources, _ := json.Marshal(emptyIfNil(o.SourcesUsed))
	errs, _ := json.Marshal(emptyIfNil(o.Errors))
	fields, _ := json.Marshal(emptyIfNil(o.FieldsUpdated))

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO automation_history
		 (scene_id, scene_name, timestamp, success, sources_used, errors, duration_ms, organized, performers_created, fields_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.SceneID, o.SceneName, o.Timestamp, o.Success,
		string(sources), string(errs), o.DurationMs, o.Organized,
		o.PerformersCreated, string(fields))
	if err != nil {
		return nil, fmt.Errorf("record outcome: %w", err)
	}
	o.ID, _ = res.LastInsertId()

	if err := s.trim(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("history trim failed")
	}

	return &o, nil
}

// trim drops the oldest rows past the cap.
func (s *Service) trim(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM automation_history WHERE id NOT IN
		 (SELECT id FROM automation_history ORDER BY id DESC LIMIT ?)`, s.limit)
	return err
}

// List returns stored outcomes, most recent first.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResponse, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = 50
	}
	if opts.PageSize > 100 {
		opts.PageSize = 100
	}

	where := ""
	args := []any{}
	if opts.SceneID != "" {
		where = " WHERE scene_id = ?"
		args = append(args, opts.SceneID)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM automation_history"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}

	args = append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scene_id, scene_name, timestamp, success, sources_used, errors,
		        duration_ms, organized, performers_created, fields_updated
		 FROM automation_history`+where+` ORDER BY id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := make([]*Outcome, 0, opts.PageSize)
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := int(total) / opts.PageSize
	if int(total)%opts.PageSize > 0 {
		totalPages++
	}

	return &ListResponse{
		Items:      items,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalCount: total,
		TotalPages: totalPages,
	}, nil
}

// Latest returns the most recent outcome for a scene, or nil.
func (s *Service) Latest(ctx context.Context, sceneID string) (*Outcome, error) {
	resp, err := s.List(ctx, ListOptions{SceneID: sceneID, Page: 1, PageSize: 1})
	if err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, nil
	}
	return resp.Items[0], nil
}

// Stats aggregates everything currently stored.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	resp, err := s.List(ctx, ListOptions{Page: 1, PageSize: 100})
	if err != nil {
		return nil, err
	}

	st := &Stats{BySource: make(map[string]int)}
	var totalDuration int64
	for page := 1; ; page++ {
		for _, o := range resp.Items {
			st.Total++
			if o.Success {
				st.Successes++
			} else {
				st.Failures++
			}
			if o.Organized {
				st.Organized++
			}
			totalDuration += o.DurationMs
			for _, src := range o.SourcesUsed {
				st.BySource[src]++
			}
		}
		if page >= resp.TotalPages {
			break
		}
		resp, err = s.List(ctx, ListOptions{Page: page + 1, PageSize: 100})
		if err != nil {
			return nil, err
		}
	}

	if st.Total > 0 {
		st.SuccessRate = float64(st.Successes) / float64(st.Total)
		st.AvgDurationMs = totalDuration / int64(st.Total)
	}
	return st, nil
}

// ExportTo writes the full history plus statistics as pretty JSON.
func (s *Service) ExportTo(ctx context.Context, w io.Writer) error {
	stats, err := s.Stats(ctx)
	if err != nil {
		return err
	}

	var entries []*Outcome
	for page := 1; ; page++ {
		resp, err := s.List(ctx, ListOptions{Page: page, PageSize: 100})
		if err != nil {
			return err
		}
		entries = append(entries, resp.Items...)
		if page >= resp.TotalPages {
			break
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Export{
		ExportedAt: time.Now().UTC(),
		Stats:      *stats,
		Entries:    entries,
	})
}

// ImportFrom merges previously exported entries. Entries missing the
// required fields are rejected individually; entries already present
// (same scene id and timestamp) are skipped. Returns the number of
// entries added.
func (s *Service) ImportFrom(ctx context.Context, r io.Reader) (int, error) {
	var exp Export
	if err := json.NewDecoder(r).Decode(&exp); err != nil {
		return 0, fmt.Errorf("decode import: %w", err)
	}

	// Oldest first so insertion order approximates original order.
	sort.Slice(exp.Entries, func(i, j int) bool {
		return exp.Entries[i].Timestamp.Before(exp.Entries[j].Timestamp)
	})

	added := 0
	for _, o := range exp.Entries {
		if o == nil || o.SceneID == "" || o.Timestamp.IsZero() {
			s.logger.Warn().Interface("entry", o).Msg("skipping invalid import entry")
			continue
		}

		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM automation_history WHERE scene_id = ? AND timestamp = ?`,
			o.SceneID, o.Timestamp).Scan(&exists)
		if err != nil {
			return added, fmt.Errorf("import dedup check: %w", err)
		}
		if exists > 0 {
			continue
		}

		entry := *o
		entry.ID = 0
		if _, err := s.Record(ctx, entry); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// Clear deletes all history entries.
func (s *Service) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM automation_history`)
	return err
}

// Count returns the number of stored entries.
func (s *Service) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM automation_history`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row rowScanner) (*Outcome, error) {
	var o Outcome
	var sources, errs, fields string
	if err := row.Scan(&o.ID, &o.SceneID, &o.SceneName, &o.Timestamp, &o.Success,
		&sources, &errs, &o.DurationMs, &o.Organized, &o.PerformersCreated, &fields); err != nil {
		return nil, fmt.Errorf("scan outcome: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &o.SourcesUsed); err != nil {
		o.SourcesUsed = []string{}
	}
	if err := json.Unmarshal([]byte(errs), &o.Errors); err != nil {
		o.Errors = []string{}
	}
	if err := json.Unmarshal([]byte(fields), &o.FieldsUpdated); err != nil {
		o.FieldsUpdated = nil
	}
	return &o, nil
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
