package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deepscout/internal/checkpoint"
	"github.com/mohammad-safakhou/deepscout/internal/eventlog"
	"github.com/mohammad-safakhou/deepscout/internal/report"
	"github.com/mohammad-safakhou/deepscout/internal/research"
	"github.com/mohammad-safakhou/deepscout/internal/shutdown"
	"github.com/mohammad-safakhou/deepscout/internal/store"
)

// RunsHandler serves run launch and inspection endpoints.
type RunsHandler struct {
	Server *Server
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("/runs", h.create)
	g.GET("/runs", h.list)
	g.GET("/runs/:id", h.get)
	g.GET("/runs/:id/report", h.report)
	g.GET("/runs/:id/events", h.events)
}

type createRunRequest struct {
	Query string `json:"query"`
}

func (h *RunsHandler) create(c echo.Context) error {
	var req createRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	runID, err := h.Server.launchRun(req.Query)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

// launchRun registers and starts a run in its own goroutine. Exclusivity per
// run directory is enforced by the runner's lock file.
func (s *Server) launchRun(query string) (string, error) {
	runID := research.NewRunID()
	runDir := s.runner.RunDir(runID)
	if s.registry != nil {
		if err := s.registry.CreateRun(context.Background(), runID, query, runDir); err != nil {
			return "", err
		}
	}

	go func() {
		coord := shutdown.New(s.logger)
		st, reportPath, err := s.runner.Start(context.Background(), runID, query, coord)
		if err != nil {
			s.logger.Printf("run %s failed: %v", runID, err)
		}
		if s.registry == nil {
			return
		}
		row := store.Run{ID: runID, Status: research.StatusOf(err), ReportPath: reportPath}
		if st != nil {
			row.Tier = st.DegradationTier
			row.TotalCost = st.TotalCost
			row.TotalTokens = st.TotalTokens
			if st.ReportMetadata != nil {
				row.CoverageGaps = st.ReportMetadata.CoverageGaps
			}
		}
		if err != nil {
			msg := err.Error()
			row.Error = &msg
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if ferr := s.registry.FinishRun(ctx, row); ferr != nil {
			s.logger.Printf("record run %s: %v", runID, ferr)
		}
	}()
	return runID, nil
}

func (h *RunsHandler) list(c echo.Context) error {
	if h.Server.registry != nil {
		runs, err := h.Server.registry.ListRuns(c.Request().Context(), 50)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, runs)
	}
	// No registry: run directories are the record.
	root := filepath.Dir(h.Server.runner.RunDir("x"))
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return c.JSON(http.StatusOK, []string{})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return c.JSON(http.StatusOK, ids)
}

func (h *RunsHandler) get(c echo.Context) error {
	id := c.Param("id")
	if h.Server.registry != nil {
		run, ok, err := h.Server.registry.GetRun(c.Request().Context(), id)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return c.JSON(http.StatusOK, run)
	}
	// Fall back to the latest checkpoint on disk.
	ckpts, err := checkpoint.NewStore(h.Server.runner.RunDir(id))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	st, step, err := ckpts.Recover()
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no valid checkpoint for run")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id":      st.RunID,
		"query":       st.Query,
		"step":        step,
		"last_node":   st.LastNode,
		"tier":        st.DegradationTier,
		"total_cost":  st.TotalCost,
		"subtopics":   len(st.Subtopics),
		"summaries":   len(st.SubtopicSummaries),
		"has_report":  st.FinalReport != "",
		"error_count": len(st.Errors),
	})
}

// report serves the final report when the run completed, otherwise the
// progressive report accumulated so far.
func (h *RunsHandler) report(c echo.Context) error {
	id := c.Param("id")
	if h.Server.registry != nil {
		run, ok, err := h.Server.registry.GetRun(c.Request().Context(), id)
		if err == nil && ok && run.ReportPath != "" {
			if _, statErr := os.Stat(run.ReportPath); statErr == nil {
				return c.File(run.ReportPath)
			}
		}
	}
	progress := filepath.Join(h.Server.runner.RunDir(id), report.ProgressFileName)
	if _, err := os.Stat(progress); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no report for run")
	}
	return c.File(progress)
}

// events returns the run's event log, optionally skipping the first `after`
// entries so clients can poll for the tail.
func (h *RunsHandler) events(c echo.Context) error {
	id := c.Param("id")
	evs, err := eventlog.Replay(h.Server.runner.RunDir(id))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no event log for run")
	}
	after := 0
	if v := c.QueryParam("after"); v != "" {
		after, err = strconv.Atoi(v)
		if err != nil || after < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "after must be a non-negative integer")
		}
	}
	if after > len(evs) {
		after = len(evs)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"total":  len(evs),
		"events": evs[after:],
	})
}
