// Package server assembles the HTTP front: request-id and logging
// middleware, the admin surface, and the pipeline catching everything else.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Server struct {
	Router *chi.Mux
	port   int
	logger *slog.Logger
	http   *http.Server
}

// New builds the router with the shared middleware stack. The pipeline
// handler is registered as the catch-all so explicitly mounted surfaces
// (admin) win over proxied paths.
func New(port int, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "dynamic-gateway")
	})

	return &Server{
		Router: r,
		port:   port,
		logger: logger,
	}
}

// MountAdmin attaches the admin router under prefix.
func (s *Server) MountAdmin(prefix string, handler http.Handler) {
	s.Router.Mount(prefix, handler)
}

// SetPipeline registers the pipeline as the handler for every path no
// mounted surface claimed.
func (s *Server) SetPipeline(handler http.Handler) {
	s.Router.NotFound(handler.ServeHTTP)
	s.Router.MethodNotAllowed(handler.ServeHTTP)
}

func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", slog.Int("port", s.port))
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
