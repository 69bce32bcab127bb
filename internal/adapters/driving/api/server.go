// Package api serves the knowledge store over HTTP with fiber.
package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/custodia-labs/sercha-kb/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// ShutdownTimeout bounds how long in-flight requests may run after Stop.
const ShutdownTimeout = 10 * time.Second

// Ports are the services the HTTP routes call.
type Ports struct {
	Search  driving.SearchService
	Reindex driving.Reindexer
	Watch   driving.WatchTracker
}

// ErrMissingPorts is returned when a required service is nil.
var ErrMissingPorts = errors.New("api: search, reindex and watch services are required")

// NewApp registers every route on a new fiber app.
func NewApp(ports Ports) (*fiber.App, error) {
	if ports.Search == nil || ports.Reindex == nil || ports.Watch == nil {
		return nil, ErrMissingPorts
	}

	var (
		app           = fiber.New(fiber.Config{ErrorHandler: ErrorHandler, DisableStartupMessage: true})
		checkHandler  = NewCheckHandler()
		searchHandler = NewSearchHandler(ports.Search)
		indexHandler  = NewIndexHandler(ports.Reindex)
		watchHandler  = NewWatchHandler(ports.Watch)
		check         = app.Group("/check")
		apiv1         = app.Group("/api/v1")
	)

	check.Get("/healthy", checkHandler.HandleHealthy)
	apiv1.Post("/search", searchHandler.HandleSearch)
	apiv1.Post("/reindex", indexHandler.HandleReindex)
	apiv1.Get("/stats", indexHandler.HandleStats)
	apiv1.Post("/watch", watchHandler.HandleStart)
	apiv1.Get("/watch", watchHandler.HandleList)
	apiv1.Delete("/watch/:id", watchHandler.HandleStop)

	return app, nil
}

// Server runs the fiber app until its context ends.
type Server struct {
	listenAddr string
	app        *fiber.App
	logger     *slog.Logger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, ports Ports) (*Server, error) {
	app, err := NewApp(ports)
	if err != nil {
		return nil, err
	}
	return &Server{listenAddr: addr, app: app, logger: logger.L()}, nil
}

// Run listens until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.listenAddr)
		errCh <- s.app.Listen(s.listenAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := s.app.ShutdownWithTimeout(ShutdownTimeout); err != nil {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return <-errCh
}
