// Package api is the agent's control surface: a small JSON API plus a
// WebSocket feed, consumed by the companion control UI and scripts.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/scenepilot/scenepilot/internal/automate"
	"github.com/scenepilot/scenepilot/internal/batch"
	"github.com/scenepilot/scenepilot/internal/config"
	"github.com/scenepilot/scenepilot/internal/dedup"
	"github.com/scenepilot/scenepilot/internal/history"
	"github.com/scenepilot/scenepilot/internal/status"
	"github.com/scenepilot/scenepilot/internal/websocket"
)

// Navigator moves the browser to a scene page for batch runs.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// Deps wires the server's collaborators.
type Deps struct {
	Config    *config.Config
	Hub       *websocket.Hub
	Runner    *automate.Runner
	Tracker   *status.Tracker
	History   *history.Service
	Store     *config.Store
	Finder    *dedup.Finder
	Confirmer *automate.PendingConfirmer
	Navigator Navigator
	Queue     *batch.Queue
	Scheduler *batch.Scheduler
	Version   string
}

// Server handles HTTP requests for the control API.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger zerolog.Logger
}

// NewServer creates the control API server and registers its routes.
func NewServer(deps Deps, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger.With().Str("component", "api").Logger(),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("2M"))

	s.registerRoutes()
	if deps.Hub != nil {
		deps.Hub.SetCommandHandler(s)
	}
	return s
}

// Start begins serving and blocks until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.deps.Config.Server.Host, s.deps.Config.Server.Port)
	s.logger.Info().Str("addr", addr).Msg("control API listening")
	return s.echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// HandleCommand dispatches WebSocket client commands to the same
// logic the HTTP handlers use.
func (s *Server) HandleCommand(msgType string, payload json.RawMessage) {
	switch msgType {
	case "automation:start":
		var opts automate.RescrapeOptions
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &opts); err != nil {
				return
			}
		}
		s.startRun(opts)
	case "automation:cancel":
		s.deps.Runner.Cancel()
	case "automation:skip":
		s.deps.Runner.SkipCurrentSource()
	case "confirm:resolve":
		var body struct {
			ID       string `json:"id"`
			Decision string `json:"decision"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return
		}
		if s.deps.Confirmer != nil {
			s.deps.Confirmer.Resolve(body.ID, automate.Decision(body.Decision))
		}
	}
}

// runBatch navigates to each scene and runs automation. The tab and
// runner are shared, so RunScene serializes the navigate+run critical
// section; the queue's parallelism pipelines retry backoff only.
// Results go out over the hub when the sweep finishes.
func (s *Server) runBatch(sceneIDs []string, opts automate.RescrapeOptions) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	base := strings.TrimRight(s.deps.Config.Browser.BaseURL, "/")
	results := s.deps.Queue.Process(ctx, sceneIDs, func(ctx context.Context, sceneID string) error {
		_, err := s.deps.Runner.RunScene(ctx, s.deps.Navigator, base+"/scenes/"+sceneID, opts)
		return err
	})

	if s.deps.Hub != nil {
		_ = s.deps.Hub.Broadcast("batch:complete", results)
	}
	s.logger.Info().Int("scenes", len(sceneIDs)).Msg("batch sweep finished")
}

// startRun launches an automation run in the background. The outcome
// reaches clients through history and the hub.
func (s *Server) startRun(opts automate.RescrapeOptions) bool {
	if s.deps.Runner.Running() {
		return false
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.deps.Runner.Run(ctx, opts); err != nil {
			s.logger.Warn().Err(err).Msg("automation run ended with error")
		}
	}()
	return true
}
