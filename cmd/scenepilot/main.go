package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scenepilot/scenepilot/internal/api"
	"github.com/scenepilot/scenepilot/internal/automate"
	"github.com/scenepilot/scenepilot/internal/batch"
	"github.com/scenepilot/scenepilot/internal/browser"
	"github.com/scenepilot/scenepilot/internal/config"
	"github.com/scenepilot/scenepilot/internal/database"
	"github.com/scenepilot/scenepilot/internal/dedup"
	"github.com/scenepilot/scenepilot/internal/detect"
	"github.com/scenepilot/scenepilot/internal/dom"
	"github.com/scenepilot/scenepilot/internal/history"
	"github.com/scenepilot/scenepilot/internal/logger"
	"github.com/scenepilot/scenepilot/internal/stash"
	"github.com/scenepilot/scenepilot/internal/status"
	"github.com/scenepilot/scenepilot/internal/websocket"
)

const version = "0.3.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "scenepilot:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Path:   cfg.Logging.Path,
	})
	defer log.Close()

	log.Info().Str("version", version).Msg("scenepilot starting")

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	stashClient := stash.NewClient(stash.Config{
		Endpoint: cfg.Stash.Endpoint,
		APIKey:   cfg.Stash.APIKey,
		Timeout:  time.Duration(cfg.Stash.TimeoutMS) * time.Millisecond,
		CacheTTL: time.Duration(cfg.Stash.CacheTTLS) * time.Second,
	}, log.Logger)

	probeCtx, probeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if v, err := stashClient.Test(probeCtx); err != nil {
		log.Warn().Err(err).Msg("host application unreachable, continuing anyway")
	} else {
		log.Info().Str("stash_version", v.Version).Msg("connected to host application")
	}
	probeCancel()

	manager := browser.NewManager(browser.Config{
		RemoteURL: cfg.Browser.Remote,
		Headless:  cfg.Browser.Headless,
		BaseURL:   cfg.Browser.BaseURL,
	}, log.Logger)
	defer manager.Close()

	sessionCtx, sessionCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if _, err := manager.Start(sessionCtx); err != nil {
		sessionCancel()
		return fmt.Errorf("start browser: %w", err)
	}
	session, err := manager.Session(sessionCtx)
	sessionCancel()
	if err != nil {
		return fmt.Errorf("attach browser session: %w", err)
	}

	selectors := dom.DefaultSelectors().Merge(cfg.Automation.Selectors)
	editor := dom.NewEditor(session.Page(), selectors, log.Logger)

	detector := detect.New(stashClient, session, editor, log.Logger)
	historySvc := history.NewService(db.Conn(), cfg.Automation.HistoryLimit, log.Logger)
	tracker := status.NewTracker(session, stashClient, detector, historySvc, log.Logger)

	hub := websocket.NewHub()
	go hub.Run()
	tracker.Subscribe(hub.PublishStatus)

	hasher := dedup.NewHasher(db.Conn(), stashClient, cfg.Stash.APIKey, log.Logger)
	finder := dedup.NewFinder(db.Conn(), stashClient, log.Logger)

	policy := automate.PolicyFromConfig(cfg.Automation)
	var confirmer *automate.PendingConfirmer
	deps := automate.Deps{
		UI:       editor,
		Locator:  session,
		Tracker:  tracker,
		Scenes:   stashClient,
		Detector: detector,
		History:  historySvc,
		Hasher:   hasher,
		Progress: hub,
	}
	if !policy.AutoApply {
		confirmer = automate.NewPendingConfirmer(hub, automate.DefaultConfirmTimeout)
		deps.Confirmer = confirmer
	}
	runner := automate.NewRunner(deps, policy, log.Logger)

	queue := batch.NewQueue(cfg.Batch.Concurrency, cfg.Batch.MaxRetries, log.Logger)

	var scheduler *batch.Scheduler
	if cfg.Batch.Cron != "" {
		scheduler, err = batch.NewScheduler(log.Logger)
		if err != nil {
			return fmt.Errorf("create scheduler: %w", err)
		}
		err = scheduler.Register(batch.SweepConfig{
			ID:   "retry-failed",
			Name: "Retry failed scenes",
			Cron: cfg.Batch.Cron,
			Func: func(ctx context.Context) error {
				return retryFailedScenes(ctx, historySvc, queue, session, runner, cfg.Browser.BaseURL)
			},
		})
		if err != nil {
			return fmt.Errorf("register sweep: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := api.NewServer(api.Deps{
		Config:    cfg,
		Hub:       hub,
		Runner:    runner,
		Tracker:   tracker,
		History:   historySvc,
		Store:     config.NewStore(db.Conn()),
		Finder:    finder,
		Confirmer: confirmer,
		Navigator: session,
		Queue:     queue,
		Scheduler: scheduler,
		Version:   version,
	}, log.Logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	runner.Cancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	return nil
}

// retryFailedScenes re-runs automation for scenes whose most recent
// outcome failed.
func retryFailedScenes(ctx context.Context, hist *history.Service, queue *batch.Queue, session *browser.Session, runner *automate.Runner, baseURL string) error {
	resp, err := hist.List(ctx, history.ListOptions{PageSize: 100})
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}

	latest := make(map[string]bool)
	var failed []string
	for _, o := range resp.Items {
		if _, seen := latest[o.SceneID]; seen {
			continue
		}
		latest[o.SceneID] = true
		if !o.Success {
			failed = append(failed, o.SceneID)
		}
	}
	if len(failed) == 0 {
		return nil
	}

	queue.Process(ctx, failed, func(ctx context.Context, sceneID string) error {
		_, err := runner.RunScene(ctx, session, baseURL+"/scenes/"+sceneID, automate.RescrapeOptions{})
		return err
	})
	return nil
}
