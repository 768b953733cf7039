package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strataline/strata/pkg/graph"
	"github.com/strataline/strata/pkg/models"
	"github.com/strataline/strata/pkg/storage"
)

// ---------------------------------------------------------------------------
// Schemas
// ---------------------------------------------------------------------------

type registerRequest struct {
	Alias      string            `json:"alias,omitempty"`
	Definition models.Definition `json:"definition"`
}

// handleRegisterSchema registers a schema definition. Registering an
// existing definition returns 200 with created=false; a new one 201.
func (s *Server) handleRegisterSchema(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	schema, created, err := s.registry.Register(r.Context(), req.Definition, req.Alias)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.logger.Info().Str("hash", schema.Hash).Str("alias", schema.Alias).Msg("Registered schema")
	}

	s.writeJSON(w, status, models.RegisterResponse{Hash: schema.Hash, Created: created})
}

// handleGetSchema retrieves a schema by content hash
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	schema, err := s.registry.GetByHash(r.Context(), hash)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, schema)
}

// handleGetSchemaByAlias retrieves the latest schema carrying an alias
func (s *Server) handleGetSchemaByAlias(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")

	schema, err := s.registry.GetByAlias(r.Context(), alias)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, schema)
}

// handleLineage returns the evolution chain from a schema to its root
func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	lineage, err := s.registry.Lineage(r.Context(), hash)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, lineage)
}

// handleEvolve registers an evolution of an existing schema
func (s *Server) handleEvolve(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	var changes models.Changes
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	schema, err := s.registry.Evolve(r.Context(), hash, changes)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.logger.Info().Str("parent", hash).Str("hash", schema.Hash).Msg("Evolved schema")
	s.writeJSON(w, http.StatusCreated, schema)
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

type createEntityRequest struct {
	SchemaHash string                 `json:"schema_hash"`
	Alias      string                 `json:"alias,omitempty"`
	Data       map[string]interface{} `json:"data"`
}

// handleCreateEntity validates and persists a new entity
func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req createEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if size, _ := json.Marshal(req.Data); len(size) > s.config.MaxEntitySize {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Entity too large: %d bytes (max: %d)", len(size), s.config.MaxEntitySize))
		return
	}

	ent, err := s.entities.Create(r.Context(), req.SchemaHash, req.Alias, req.Data)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.logger.Info().Str("id", ent.ID).Str("schema", ent.SchemaHash).Msg("Created entity")
	s.writeJSON(w, http.StatusCreated, ent)
}

// handleGetEntity retrieves an entity by ID
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cacheKey := "entity:" + id
	if cached, err := s.cache.Get(r.Context(), cacheKey); err == nil {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	ent, err := s.entities.Load(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	_ = s.cache.Set(r.Context(), cacheKey, ent, time.Duration(s.config.CacheTTL)*time.Second)
	s.writeJSON(w, http.StatusOK, ent)
}

// handlePatchEntity merges a patch into an entity and re-validates the
// whole document
func (s *Server) handlePatchEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	ent, err := s.entities.Save(r.Context(), id, patch)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.invalidateEntity(id)
	s.logger.Info().Str("id", id).Msg("Updated entity")
	s.writeJSON(w, http.StatusOK, ent)
}

// handleDeleteEntity removes an entity. Its relationships are left in
// place; callers that re-resolve endpoints can filter dangling edges.
func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := s.entities.Delete(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !deleted {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Entity %s not found", id))
		return
	}

	s.invalidateEntity(id)
	s.logger.Info().Str("id", id).Msg("Deleted entity")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("Entity %s deleted successfully", id),
	})
}

type searchRequest struct {
	SchemaHash string          `json:"schema_hash"`
	Filter     *storage.Filter `json:"filter,omitempty"`
}

// handleSearchEntities queries entities of a schema by attribute filter
func (s *Server) handleSearchEntities(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	entities, err := s.entities.Query(r.Context(), req.SchemaHash, req.Filter)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  entities,
		"count": len(entities),
	})
}

type nearestRequest struct {
	SchemaHash string    `json:"schema_hash"`
	Vector     []float32 `json:"vector"`
	Limit      int       `json:"limit,omitempty"`
}

// handleNearestEntities ranks a schema's entities by vector similarity
func (s *Server) handleNearestEntities(w http.ResponseWriter, r *http.Request) {
	var req nearestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.config.DefaultPageSize
	}

	entities, err := s.entities.Nearest(r.Context(), req.SchemaHash, req.Vector, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  entities,
		"count": len(entities),
	})
}

// ---------------------------------------------------------------------------
// Relationships
// ---------------------------------------------------------------------------

type createRelationshipRequest struct {
	SourceID   string                 `json:"source_id"`
	TargetID   string                 `json:"target_id"`
	Type       string                 `json:"relation_type"`
	Strength   *float64               `json:"strength,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	TTLSeconds *int                   `json:"ttl_seconds,omitempty"`
}

// handleCreateRelationship creates a directed edge between two entities
func (s *Server) handleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req createRelationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	params := graph.CreateParams{
		SourceID: req.SourceID,
		TargetID: req.TargetID,
		Type:     req.Type,
		Strength: req.Strength,
		Metadata: req.Metadata,
	}
	if req.TTLSeconds != nil {
		ttl := time.Duration(*req.TTLSeconds) * time.Second
		params.TTL = &ttl
	}

	rel, err := s.graph.Create(r.Context(), params)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.logger.Info().
		Str("id", rel.ID).
		Str("source", rel.SourceID).
		Str("target", rel.TargetID).
		Str("type", rel.Type).
		Msg("Created relationship")
	s.writeJSON(w, http.StatusCreated, rel)
}

// handleListRelationships lists live relationships touching an entity
func (s *Server) handleListRelationships(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	asSource := r.URL.Query().Get("source") != "false"
	asTarget := r.URL.Query().Get("target") != "false"

	rels, err := s.graph.GetFor(r.Context(), id, asSource, asTarget)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  rels,
		"count": len(rels),
	})
}

type updateRelationshipRequest struct {
	Strength *float64               `json:"strength,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// handleUpdateRelationship updates strength and/or metadata
func (s *Server) handleUpdateRelationship(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateRelationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	var rel *models.Relationship
	var err error

	if req.Strength != nil {
		rel, err = s.graph.UpdateStrength(r.Context(), id, *req.Strength)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	if req.Metadata != nil {
		rel, err = s.graph.UpdateMetadata(r.Context(), id, req.Metadata)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	if rel == nil {
		s.writeError(w, http.StatusBadRequest, "Nothing to update")
		return
	}

	s.writeJSON(w, http.StatusOK, rel)
}

// handleDeleteRelationship removes a relationship
func (s *Server) handleDeleteRelationship(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := s.graph.Delete(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !deleted {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Relationship %s not found", id))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("Relationship %s deleted successfully", id),
	})
}

// handleCleanup removes all expired relationships from storage
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	count, err := s.graph.CleanupExpired(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.logger.Info().Int("count", count).Msg("Cleaned up expired relationships")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count_deleted": count,
	})
}

type pathRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	MaxDepth int    `json:"max_depth,omitempty"`
}

// handleFindPath finds a shortest relationship path between two entities
func (s *Server) handleFindPath(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	maxDepth := req.MaxDepth
	if maxDepth <= 0 || maxDepth > s.config.MaxPathDepth {
		maxDepth = s.config.MaxPathDepth
	}

	path, err := s.graph.FindPath(r.Context(), req.From, req.To, maxDepth)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, path)
}

func (s *Server) invalidateEntity(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = s.cache.Delete(ctx, "entity:"+id)
}
