// Package server exposes the engine over HTTP: the source-control webhook,
// manual triggers, executor reports and read access to runs.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/engine"
)

const shutdownTimeout = 5 * time.Second

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// WebhookSecret enables HMAC-SHA256 verification of source hooks.
	WebhookSecret string
}

// Server is the HTTP surface of the engine.
type Server struct {
	*echo.Echo

	engine *engine.Engine
	cfg    Config
	ctx    context.Context
}

// New creates a server and registers its routes.
func New(ctx context.Context, eng *engine.Engine, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{Echo: e, engine: eng, cfg: cfg, ctx: ctx}
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(s.requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.GET("/health", s.health)

	api := s.Group("/api/v1")
	api.POST("/hooks/source", s.sourceHook)
	api.POST("/stages/:id/trigger", s.triggerStage)
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)
	api.GET("/runs/:id/inputs", s.runInputs)
	api.POST("/runs/:id/status", s.reportStatus)
	api.POST("/runs/:id/cancel", s.cancelRun)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	logger := ctxlog.FromContext(s.ctx)
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelDebug
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			logger.Log(c.Request().Context(), level, "HTTP request handled.", attrs...)
			return nil
		},
	})
}

// Run serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("HTTP server listening.", "address", ln.Addr().String())

	s.Listener = ln
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start("")
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server.")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	logger.Debug("HTTP server stopped.")
	return nil
}

// Listen opens the configured address.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return ln, nil
}

func (s *Server) health(c echo.Context) error {
	return c.String(http.StatusOK, "OK\n")
}
