package server

import (
	"net/http"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"
)

// SchedulesHandler manages recurring research queries. All endpoints need
// the Postgres registry.
type SchedulesHandler struct {
	Server *Server
}

func (h *SchedulesHandler) Register(g *echo.Group) {
	g.POST("/schedules", h.create)
	g.GET("/schedules", h.list)
	g.PUT("/schedules/:id/enabled", h.setEnabled)
	g.DELETE("/schedules/:id", h.delete)
}

type createScheduleRequest struct {
	Query string `json:"query"`
	Cron  string `json:"cron"`
}

func (h *SchedulesHandler) requireRegistry() error {
	if h.Server.registry == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "schedules need a configured database")
	}
	return nil
}

func validCron(spec string) bool {
	if spec == "@daily" || spec == "@hourly" {
		return true
	}
	_, err := cronexpr.Parse(spec)
	return err == nil
}

func (h *SchedulesHandler) create(c echo.Context) error {
	if err := h.requireRegistry(); err != nil {
		return err
	}
	var req createScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if !validCron(req.Cron) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cron expression")
	}
	id, err := h.Server.registry.CreateSchedule(c.Request().Context(), req.Query, req.Cron)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *SchedulesHandler) list(c echo.Context) error {
	if err := h.requireRegistry(); err != nil {
		return err
	}
	scheds, err := h.Server.registry.ListSchedules(c.Request().Context(), false)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, scheds)
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *SchedulesHandler) setEnabled(c echo.Context) error {
	if err := h.requireRegistry(); err != nil {
		return err
	}
	var req setEnabledRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Server.registry.SetScheduleEnabled(c.Request().Context(), c.Param("id"), req.Enabled); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SchedulesHandler) delete(c echo.Context) error {
	if err := h.requireRegistry(); err != nil {
		return err
	}
	if err := h.Server.registry.DeleteSchedule(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
