// Package api exposes the operational HTTP surface: health, metrics, insight
// and entity lookups, and fallback rule management.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-marketplace/kestrel/internal/domain"
	"github.com/opensource-marketplace/kestrel/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, store domain.Store, cache domain.Cache, bus domain.AlertBus, engine *rules.Engine, version string) *Server {
	handler := NewHandler(store, cache, bus, engine, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and observability endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	// Insight retrieval
	router.Get("/insights/{id}", handler.GetInsight)

	// Entity aggregate view
	router.Get("/entities/{type}/{id}", handler.GetEntity)

	// Fallback rule management
	router.Get("/fallback-rules", handler.ListFallbackRules)
	router.Get("/fallback-rules/{id}", handler.GetFallbackRule)
	router.Post("/fallback-rules", handler.CreateFallbackRule)
	router.Delete("/fallback-rules/{id}", handler.DeleteFallbackRule)
	router.Post("/fallback-rules/reload", handler.ReloadRules)

	// Dead-letter inspection
	router.Get("/deadletters", handler.ListDeadLetters)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
