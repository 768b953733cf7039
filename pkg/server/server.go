package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/strataline/strata/pkg/cache"
	"github.com/strataline/strata/pkg/compiler"
	"github.com/strataline/strata/pkg/config"
	"github.com/strataline/strata/pkg/entity"
	"github.com/strataline/strata/pkg/graph"
	"github.com/strataline/strata/pkg/models"
	"github.com/strataline/strata/pkg/registry"
	"github.com/strataline/strata/pkg/storage"
)

// Server exposes the schema, entity and relationship operations over
// HTTP. External layers consume strata purely through this surface and
// never see storage internals.
type Server struct {
	config   *config.Config
	registry *registry.Registry
	entities *entity.Store
	graph    *graph.Graph
	cache    cache.Cache
	logger   zerolog.Logger
	router   *chi.Mux
}

// New creates a new server instance
func New(
	cfg *config.Config,
	reg *registry.Registry,
	entities *entity.Store,
	g *graph.Graph,
	c cache.Cache,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		config:   cfg,
		registry: reg,
		entities: entities,
		graph:    g,
		cache:    c,
		logger:   logger,
		router:   chi.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// Health check
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Schema operations
		r.Post("/schemas", s.handleRegisterSchema)
		r.Get("/schemas/{hash}", s.handleGetSchema)
		r.Get("/schemas/{hash}/lineage", s.handleLineage)
		r.Post("/schemas/{hash}/evolve", s.handleEvolve)
		r.Get("/schemas/alias/{alias}", s.handleGetSchemaByAlias)

		// Entity operations
		r.Post("/entities", s.handleCreateEntity)
		r.Get("/entities/{id}", s.handleGetEntity)
		r.Patch("/entities/{id}", s.handlePatchEntity)
		r.Delete("/entities/{id}", s.handleDeleteEntity)
		r.Post("/entities/search", s.handleSearchEntities)
		r.Post("/entities/nearest", s.handleNearestEntities)

		// Relationship operations
		r.Post("/relationships", s.handleCreateRelationship)
		r.Get("/entities/{id}/relationships", s.handleListRelationships)
		r.Patch("/relationships/{id}", s.handleUpdateRelationship)
		r.Delete("/relationships/{id}", s.handleDeleteRelationship)
		r.Post("/relationships/cleanup", s.handleCleanup)
		r.Post("/relationships/path", s.handleFindPath)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info().Str("addr", addr).Msg("Starting server")
	return http.ListenAndServe(addr, s.router)
}

// Handler returns the HTTP handler (useful for testing)
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": config.Version,
	})
}

// handleVersion returns server version
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version": config.Version,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, models.ErrorResponse{
		Error: struct {
			Message string `json:"message"`
			Status  int    `json:"status"`
		}{
			Message: message,
			Status:  status,
		},
	})
}

// writeDomainError maps typed domain errors onto HTTP statuses. Anything
// unrecognized is a backend failure and surfaces as 500.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var (
		valErr     *registry.ValidationError
		missingErr *entity.MissingAttributeError
		constrErr  *entity.ConstraintError
	)

	switch {
	case errors.Is(err, registry.ErrSchemaNotFound),
		errors.Is(err, entity.ErrNotFound),
		errors.Is(err, graph.ErrNotFound),
		errors.Is(err, graph.ErrNoPath):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrNoEvolution),
		errors.Is(err, storage.ErrUniqueViolation):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &valErr),
		errors.As(err, &missingErr),
		errors.As(err, &constrErr),
		errors.Is(err, registry.ErrEmptyDefinition),
		errors.Is(err, graph.ErrInvalidStrength),
		errors.Is(err, compiler.ErrUnsupportedType),
		errors.Is(err, compiler.ErrInvalidConstraint):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Request failed")
		s.writeError(w, http.StatusInternalServerError, "Internal error")
	}
}
