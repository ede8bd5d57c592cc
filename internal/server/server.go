// Package server exposes the research system over HTTP: launching and
// inspecting runs, tailing event logs, managing recurring schedules, and the
// auth endpoints guarding it all.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/shutdown"
	"github.com/mohammad-safakhou/deepscout/internal/state"
	"github.com/mohammad-safakhou/deepscout/internal/store"
)

// RunLauncher is what the server needs from the research runner. The
// concrete implementation is research.Runner; tests script their own.
type RunLauncher interface {
	RunDir(runID string) string
	Start(ctx context.Context, runID, query string, coord *shutdown.Coordinator) (*state.ResearchState, string, error)
}

// Server is the session API plus the schedule ticker.
type Server struct {
	echo      *echo.Echo
	cfg       *config.Config
	registry  *store.Store // nil when postgres is not configured
	runner    RunLauncher
	scheduler *Scheduler
	logger    *log.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry installs the Postgres run registry.
func WithRegistry(st *store.Store) Option {
	return func(s *Server) { s.registry = st }
}

// WithServerLogger overrides the default logger.
func WithServerLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New assembles the HTTP server and its routes.
func New(cfg *config.Config, runner RunLauncher, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		runner: runner,
		logger: log.New(os.Stderr, "[SERVER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Server.JWTSecret == "" && len(cfg.Server.APITokens) == 0 {
		return nil, fmt.Errorf("no auth configured (server.jwt_secret or server.api_tokens)")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if cfg.Telemetry.Enabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	auth := &AuthHandler{Registry: s.registry, Secret: []byte(cfg.Server.JWTSecret)}
	auth.Register(e.Group("/api/auth"))

	v1 := e.Group("/v1")
	v1.Use(s.authMiddleware())

	rh := &RunsHandler{Server: s}
	rh.Register(v1)

	sh := &SchedulesHandler{Server: s}
	sh.Register(v1)

	s.echo = e
	return s, nil
}

// Start begins the schedule ticker and serves until the listener fails.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.cfg.Server.Addr
	}
	if s.registry != nil {
		s.scheduler = NewScheduler(s.registry, s.launchRun, s.logger)
		s.scheduler.Start()
	}
	s.logger.Printf("listening on %s", addr)
	return s.echo.Start(addr)
}

// Shutdown stops the scheduler and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	return s.echo.Shutdown(ctx)
}

// errorHandler renders every failure as structured JSON and logs it once.
func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]interface{}{"error": msg})
	}
}
