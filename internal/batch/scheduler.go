package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// SweepFunc is a scheduled batch sweep.
type SweepFunc func(ctx context.Context) error

// SweepConfig describes one recurring sweep.
type SweepConfig struct {
	ID         string
	Name       string
	Cron       string
	Func       SweepFunc
	RunOnStart bool
}

// SweepInfo is the API view of a registered sweep.
type SweepInfo struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Cron    string     `json:"cron"`
	LastRun *time.Time `json:"lastRun,omitempty"`
	NextRun *time.Time `json:"nextRun,omitempty"`
	Running bool       `json:"running"`
}

type sweepEntry struct {
	config  SweepConfig
	job     gocron.Job
	lastRun *time.Time
	running bool
}

// Scheduler runs batch sweeps on cron expressions.
type Scheduler struct {
	gocron gocron.Scheduler
	logger zerolog.Logger
	sweeps map[string]*sweepEntry
	mu     sync.RWMutex
}

// NewScheduler creates a Scheduler.
func NewScheduler(logger zerolog.Logger) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{
		gocron: gs,
		logger: logger.With().Str("component", "batch").Logger(),
		sweeps: make(map[string]*sweepEntry),
	}, nil
}

// Register adds a sweep. The cron expression is validated here.
func (s *Scheduler) Register(config SweepConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sweeps[config.ID]; exists {
		return fmt.Errorf("sweep %q already registered", config.ID)
	}

	job, err := s.gocron.NewJob(
		gocron.CronJob(config.Cron, false),
		gocron.NewTask(func() { s.run(config.ID) }),
		gocron.WithName(config.Name),
		gocron.WithTags(config.ID),
	)
	if err != nil {
		return fmt.Errorf("schedule sweep %q: %w", config.ID, err)
	}

	s.sweeps[config.ID] = &sweepEntry{config: config, job: job}
	s.logger.Info().
		Str("id", config.ID).
		Str("cron", config.Cron).
		Msg("registered sweep")
	return nil
}

func (s *Scheduler) run(id string) {
	s.mu.Lock()
	entry, exists := s.sweeps[id]
	if !exists || entry.running {
		s.mu.Unlock()
		return
	}
	entry.running = true
	s.mu.Unlock()

	start := time.Now()
	err := entry.config.Func(context.Background())

	s.mu.Lock()
	entry.running = false
	entry.lastRun = &start
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Dur("duration", time.Since(start)).Msg("sweep failed")
		return
	}
	s.logger.Info().Str("id", id).Dur("duration", time.Since(start)).Msg("sweep completed")
}

// Start begins cron evaluation and fires any run-on-start sweeps.
func (s *Scheduler) Start() {
	s.gocron.Start()

	s.mu.RLock()
	var startup []string
	for id, entry := range s.sweeps {
		if entry.config.RunOnStart {
			startup = append(startup, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range startup {
		go s.run(id)
	}
}

// Stop shuts the scheduler down, waiting for running sweeps.
func (s *Scheduler) Stop() error {
	return s.gocron.Shutdown()
}

// RunNow triggers a sweep outside its schedule.
func (s *Scheduler) RunNow(id string) error {
	s.mu.RLock()
	entry, exists := s.sweeps[id]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("sweep %q not found", id)
	}
	if entry.running {
		return fmt.Errorf("sweep %q is already running", id)
	}
	go s.run(id)
	return nil
}

// List returns every registered sweep.
func (s *Scheduler) List() []SweepInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SweepInfo, 0, len(s.sweeps))
	for _, entry := range s.sweeps {
		info := SweepInfo{
			ID:      entry.config.ID,
			Name:    entry.config.Name,
			Cron:    entry.config.Cron,
			LastRun: entry.lastRun,
			Running: entry.running,
		}
		if next, err := entry.job.NextRun(); err == nil {
			info.NextRun = &next
		}
		out = append(out, info)
	}
	return out
}
