// Package server provides the HTTP API for Shashin.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/dataset"
	"github.com/hyperjump/shashin/internal/indexer"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
	"go.uber.org/zap"
)

// Server is the HTTP server for the Shashin API.
type Server struct {
	engine  *search.Engine
	indexer *indexer.Indexer
	store   vector.Store
	source  dataset.Source
	storage storage.Storage
	config  *config.Config
	logger  *zap.Logger
	jobs    *jobRegistry
	server  *http.Server
}

// NewServer creates a server with the given dependencies. storage may be nil when the
// interaction log is disabled.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	store vector.Store,
	source dataset.Source,
	storage storage.Storage,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:  engine,
		indexer: idx,
		store:   store,
		source:  source,
		storage: storage,
		config:  cfg,
		logger:  logger,
		jobs:    newJobRegistry(),
	}
}

// Router builds the chi router serving the API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		// Progress streams stay open for the whole job and skip the request timeout.
		r.Get("/index/{id}/stream", s.handleIndexStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(middleware.Compress(5))
			r.Post("/search", s.handleSearch)
			r.Get("/images/{name}", s.handleImage)
			r.Get("/dataset", s.handleDataset)
			r.Post("/index", s.handleIndexStart)
			r.Get("/index/{id}", s.handleIndexGet)
			r.Get("/interactions", s.handleInteractions)
			r.Get("/interactions/{id}", s.handleInteractionGet)
			r.Get("/status", s.handleStatus)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop cancels running index jobs and gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.jobs.cancelAll()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
