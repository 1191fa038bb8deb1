// Package server exposes the core compiler pipeline over HTTP: three thin
// endpoints that read a request body, call into internal/parser,
// internal/macro, internal/resolver, internal/transform,
// internal/validate, internal/plan in order, and render whatever those packages return. It never reaches back
// into pipeline internals.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/flowweaver/compiler/internal/logger"
	"github.com/flowweaver/compiler/internal/store"
	"github.com/flowweaver/compiler/internal/validate"
)

// New builds the Echo application: middleware, health check, and the
// compile/validate/plan routes. st and cache may be nil, in which case
// /compile always runs the pipeline instead of consulting the artifact
// store.
func New(log *logger.Logger, registry *validate.RuleRegistry, opts validate.Options, st *store.PostgresStore, cache *store.BlobCache) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "flowweaver"})
	})

	h := &Handler{log: log, registry: registry, validateOpts: opts, store: st, cache: cache}
	e.POST("/compile", h.Compile)
	e.POST("/validate", h.Validate)
	e.POST("/plan", h.Plan)

	return e
}

// Server wraps an *echo.Echo with the source's graceful-shutdown shape:
// listen in a goroutine, block on an interrupt/SIGTERM or a listener
// error, then shut down with a bounded grace period.
type Server struct {
	echo *echo.Echo
	log  *logger.Logger
	name string
	addr string
}

// NewServer wraps e for graceful start/stop on port.
func NewServer(name string, port int, e *echo.Echo, log *logger.Logger) *Server {
	return &Server{echo: e, log: log, name: name, addr: fmt.Sprintf(":%d", port)}
}

// Start listens until an interrupt/SIGTERM arrives or the listener fails,
// then shuts down gracefully with a 30s grace period.
func (s *Server) Start() error {
	serverErrors := make(chan error, 1)

	go func() {
		s.log.Info(fmt.Sprintf("%s starting", s.name), "addr", s.addr)
		serverErrors <- s.echo.Start(s.addr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case sig := <-shutdown:
		s.log.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.echo.Shutdown(ctx); err != nil {
			s.log.Error("graceful shutdown failed", "error", err)
			return fmt.Errorf("could not stop server: %w", err)
		}
		s.log.Info("shutdown complete")
	}

	return nil
}
