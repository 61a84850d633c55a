// Package api serves the local control surface: health, Prometheus metrics,
// the published state and the action endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helloworlde/meshkeeper/internal/agent"
	"github.com/helloworlde/meshkeeper/internal/logger"
	"github.com/helloworlde/meshkeeper/internal/models"
	"github.com/helloworlde/meshkeeper/internal/queue"
	"github.com/helloworlde/meshkeeper/internal/scheduler"
)

// Controller is the part of *agent.Agent the API drives.
type Controller interface {
	State() agent.State
	Refresh(ctx context.Context) error
	RunProbes(ctx context.Context, force bool) *models.OfflineProbeSnapshot
	Submit(ctx context.Context, req queue.Request, confirmed bool) (models.ExecutionResult, error)
	ReplayQueuedActions(ctx context.Context) (queue.ReplaySummary, error)
	RemoveQueuedAction(id string) error
	SetVisibility(popoverOpen, windowVisible bool) scheduler.Mode
}

type Options struct {
	Controller   Controller
	Gatherer     prometheus.Gatherer
	MetricsPath  string
	Logger       logger.Logger
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Server struct {
	echo *echo.Echo
	ctl  Controller
	log  logger.Logger
	opts Options
}

func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Default
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, ctl: opts.Controller, log: log.With("component", "api"), opts: opts}
	e.HTTPErrorHandler = s.errorHandler

	e.Use(requestLogger(s.log))
	e.Use(middleware.Recover())

	e.GET("/health", s.getHealth)
	if opts.Gatherer != nil {
		e.GET(opts.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api")
	api.GET("/state", s.getState)
	api.GET("/snapshot", s.getSnapshot)
	api.POST("/refresh", s.postRefresh)
	api.POST("/probes", s.postProbes)
	api.POST("/visibility", s.postVisibility)
	api.POST("/actions", s.postAction)

	q := api.Group("/queue")
	q.GET("", s.getQueue)
	q.POST("/replay", s.postReplay)
	q.DELETE("/:id", s.deleteQueued)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown. It returns http.ErrServerClosed after
// a clean shutdown.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}
	s.log.Infof("listening on %s", addr)
	return s.echo.StartServer(srv)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	}
	if code >= http.StatusInternalServerError {
		s.log.Errorf("%s %s: %v", c.Request().Method, c.Request().URL.Path, err)
	}
	if err := c.JSON(code, errorBody{Error: msg}); err != nil {
		s.log.Warnf("write error response: %v", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func requestLogger(log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			log.Debugf("%s %s -> %d (%s)", req.Method, req.URL.Path, c.Response().Status, time.Since(start))
			return nil
		}
	}
}
