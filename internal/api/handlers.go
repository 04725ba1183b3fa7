package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/scenepilot/scenepilot/internal/automate"
	"github.com/scenepilot/scenepilot/internal/config"
	"github.com/scenepilot/scenepilot/internal/history"
	"github.com/scenepilot/scenepilot/internal/status"
)

func (s *Server) getHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.deps.Version,
		"running": s.deps.Runner.Running(),
	})
}

func (s *Server) startAutomation(c echo.Context) error {
	var opts automate.RescrapeOptions
	if err := c.Bind(&opts); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !s.startRun(opts) {
		return echo.NewHTTPError(http.StatusConflict, "automation already in progress")
	}
	return c.JSON(http.StatusAccepted, map[string]bool{"started": true})
}

func (s *Server) cancelAutomation(c echo.Context) error {
	s.deps.Runner.Cancel()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) skipSource(c echo.Context) error {
	s.deps.Runner.SkipCurrentSource()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getStatus(c echo.Context) error {
	st, err := s.deps.Tracker.Detect(c.Request().Context())
	if err != nil {
		if errors.Is(err, status.ErrNoScene) {
			return echo.NewHTTPError(http.StatusNotFound, "no scene in view")
		}
		return echo.NewHTTPError(http.StatusBadGateway, "status detection failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) listHistory(c echo.Context) error {
	opts := history.ListOptions{SceneID: c.QueryParam("scene")}
	if v := c.QueryParam("page"); v != "" {
		opts.Page, _ = strconv.Atoi(v)
	}
	if v := c.QueryParam("pageSize"); v != "" {
		opts.PageSize, _ = strconv.Atoi(v)
	}

	resp, err := s.deps.History.List(c.Request().Context(), opts)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list history")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getHistoryStats(c echo.Context) error {
	stats, err := s.deps.History.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute stats")
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) exportHistory(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="automation-history.json"`)
	c.Response().WriteHeader(http.StatusOK)
	return s.deps.History.ExportTo(c.Request().Context(), c.Response())
}

func (s *Server) importHistory(c echo.Context) error {
	added, err := s.deps.History.ImportFrom(c.Request().Context(), c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "import failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"added": added})
}

func (s *Server) clearHistory(c echo.Context) error {
	if err := s.deps.History.Clear(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to clear history")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listProfiles(c echo.Context) error {
	profiles, err := s.deps.Store.ListProfiles(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list profiles")
	}
	return c.JSON(http.StatusOK, profiles)
}

func (s *Server) getProfile(c echo.Context) error {
	profile, err := s.deps.Store.LoadProfile(c.Request().Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, config.ErrProfileNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "profile not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load profile")
	}
	return c.JSON(http.StatusOK, profile)
}

func (s *Server) saveProfile(c echo.Context) error {
	var snapshot config.AutomationConfig
	if err := c.Bind(&snapshot); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.deps.Store.SaveProfile(c.Request().Context(), c.Param("name"), snapshot); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save profile")
	}
	return c.NoContent(http.StatusNoContent)
}

// applyProfile overlays a saved snapshot onto the live configuration
// and swaps the runner's policy so subsequent runs use it.
func (s *Server) applyProfile(c echo.Context) error {
	name := c.Param("name")
	snapshot, err := s.deps.Store.LoadProfile(c.Request().Context(), name)
	if err != nil {
		if errors.Is(err, config.ErrProfileNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "profile not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load profile")
	}

	if err := s.deps.Runner.SetPolicy(automate.PolicyFromConfig(*snapshot)); err != nil {
		return echo.NewHTTPError(http.StatusConflict, "automation already in progress")
	}
	s.deps.Config.Automation = *snapshot

	return c.JSON(http.StatusOK, map[string]string{"applied": name})
}

func (s *Server) deleteProfile(c echo.Context) error {
	err := s.deps.Store.DeleteProfile(c.Request().Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, config.ErrProfileNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "profile not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete profile")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listDuplicates(c echo.Context) error {
	distance := 4
	if v := c.QueryParam("distance"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			distance = n
		}
	}
	candidates, err := s.deps.Finder.FindCandidates(c.Request().Context(), distance)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "duplicate search failed")
	}
	return c.JSON(http.StatusOK, candidates)
}

func (s *Server) mergeScenes(c echo.Context) error {
	var body struct {
		SourceIDs     []string `json:"sourceIds"`
		DestinationID string   `json:"destinationId"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(body.SourceIDs) == 0 || body.DestinationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sourceIds and destinationId are required")
	}
	if err := s.deps.Finder.Merge(c.Request().Context(), body.SourceIDs, body.DestinationID); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "merge failed: "+err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) startBatch(c echo.Context) error {
	var body struct {
		SceneIDs []string                 `json:"sceneIds"`
		Options  automate.RescrapeOptions `json:"options"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(body.SceneIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "sceneIds is required")
	}
	if s.deps.Runner.Running() {
		return echo.NewHTTPError(http.StatusConflict, "automation already in progress")
	}

	go s.runBatch(body.SceneIDs, body.Options)
	return c.JSON(http.StatusAccepted, map[string]any{
		"queued": len(body.SceneIDs),
	})
}

func (s *Server) listSweeps(c echo.Context) error {
	if s.deps.Scheduler == nil {
		return c.JSON(http.StatusOK, []any{})
	}
	return c.JSON(http.StatusOK, s.deps.Scheduler.List())
}

func (s *Server) getShortcuts(c echo.Context) error {
	shortcuts := s.deps.Config.Shortcuts
	if len(shortcuts) == 0 {
		shortcuts = config.DefaultShortcuts
	}
	return c.JSON(http.StatusOK, shortcuts)
}

func (s *Server) resolveConfirmation(c echo.Context) error {
	if s.deps.Confirmer == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "auto-apply is enabled, nothing to confirm")
	}
	var body struct {
		Decision string `json:"decision"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	decision := automate.Decision(body.Decision)
	switch decision {
	case automate.DecisionApply, automate.DecisionSkip, automate.DecisionCancel:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "decision must be apply, skip or cancel")
	}
	if !s.deps.Confirmer.Resolve(c.Param("id"), decision) {
		return echo.NewHTTPError(http.StatusNotFound, "no pending confirmation with that id")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleWebSocket(c echo.Context) error {
	return s.deps.Hub.HandleWebSocket(c)
}
