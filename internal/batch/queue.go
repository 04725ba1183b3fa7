// Package batch runs automation over many scenes with bounded
// parallelism and per-scene retry.
package batch

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency = 3
	DefaultMaxRetries  = 3
	defaultBackoffBase = 2 * time.Second
)

// Result is the terminal state of one scene's task.
type Result struct {
	SceneID  string `json:"sceneId"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Task processes one scene. Returning nil ends the scene's retries.
type Task func(ctx context.Context, sceneID string) error

// Queue fans scene tasks out over a bounded worker pool. Failed tasks
// retry with exponential backoff up to the retry cap.
type Queue struct {
	concurrency int64
	maxRetries  int
	backoffBase time.Duration
	logger      zerolog.Logger
}

// NewQueue creates a Queue. Zero values take the defaults.
func NewQueue(concurrency, maxRetries int, logger zerolog.Logger) *Queue {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Queue{
		concurrency: int64(concurrency),
		maxRetries:  maxRetries,
		backoffBase: defaultBackoffBase,
		logger:      logger.With().Str("component", "batch").Logger(),
	}
}

// Process runs task for every scene and blocks until all finish or the
// context ends. Results are positionally aligned with sceneIDs.
func (q *Queue) Process(ctx context.Context, sceneIDs []string, task Task) []Result {
	sem := semaphore.NewWeighted(q.concurrency)
	results := make([]Result, len(sceneIDs))

	for i, sceneID := range sceneIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{SceneID: sceneID, Error: err.Error()}
			continue
		}
		go func(i int, sceneID string) {
			defer sem.Release(1)
			results[i] = q.runOne(ctx, sceneID, task)
		}(i, sceneID)
	}

	// Draining the semaphore waits for every in-flight task.
	if err := sem.Acquire(context.Background(), q.concurrency); err == nil {
		sem.Release(q.concurrency)
	}
	return results
}

func (q *Queue) runOne(ctx context.Context, sceneID string, task Task) Result {
	res := Result{SceneID: sceneID}
	backoff := q.backoffBase

	for attempt := 1; attempt <= q.maxRetries; attempt++ {
		res.Attempts = attempt
		err := task(ctx, sceneID)
		if err == nil {
			return res
		}
		res.Error = err.Error()
		q.logger.Warn().
			Err(err).
			Str("scene", sceneID).
			Int("attempt", attempt).
			Msg("scene task failed")

		if attempt == q.maxRetries {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Error = ctx.Err().Error()
			return res
		case <-timer.C:
		}
		backoff *= 2
	}
	return res
}
