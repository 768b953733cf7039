// Package graph manages directed, typed, optionally expiring
// relationships between entities. Edges are independent of schema and
// entity internals beyond referencing their IDs; deleting an entity
// deliberately leaves its edges dangling.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strataline/strata/pkg/models"
	"github.com/strataline/strata/pkg/storage"
)

var (
	// ErrNotFound is returned when a relationship does not exist
	ErrNotFound = errors.New("relationship not found")
	// ErrInvalidStrength is returned when strength falls outside [0, 1]
	ErrInvalidStrength = errors.New("strength must be between 0 and 1")
	// ErrNoPath is returned when no path connects two entities
	ErrNoPath = errors.New("no path found")
)

// DefaultStrength is assigned when a relationship is created without one
const DefaultStrength = 1.0

// CreateParams describes a relationship to create. Strength defaults to
// DefaultStrength when nil; TTL, when set, stamps an expiry relative to
// now (a zero TTL creates an already-expired edge, visible only to
// cleanup).
type CreateParams struct {
	SourceID string
	TargetID string
	Type     string
	Strength *float64
	Metadata map[string]interface{}
	TTL      *time.Duration
}

// Graph is the relationship service over a persistence backend.
type Graph struct {
	backend storage.Backend
}

// New creates a relationship graph
func New(backend storage.Backend) *Graph {
	return &Graph{backend: backend}
}

// Create persists a new directed relationship
func (g *Graph) Create(ctx context.Context, params CreateParams) (*models.Relationship, error) {
	if params.SourceID == "" || params.TargetID == "" {
		return nil, errors.New("source and target IDs are required")
	}
	if params.Type == "" {
		return nil, errors.New("relation type is required")
	}

	strength := DefaultStrength
	if params.Strength != nil {
		strength = *params.Strength
	}
	if strength < 0 || strength > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStrength, strength)
	}

	now := time.Now().UTC()
	rel := &models.Relationship{
		ID:        uuid.NewString(),
		SourceID:  params.SourceID,
		TargetID:  params.TargetID,
		Type:      params.Type,
		Strength:  strength,
		Metadata:  params.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if params.TTL != nil {
		expires := now.Add(*params.TTL)
		rel.ExpiresAt = &expires
	}

	if err := g.backend.PutRelationship(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// GetFor returns the live relationships touching an entity, as source
// and/or as target, newest first. Expired rows are excluded but remain
// stored until CleanupExpired removes them.
func (g *Graph) GetFor(ctx context.Context, entityID string, asSource, asTarget bool) ([]*models.Relationship, error) {
	return g.backend.QueryRelationships(ctx, entityID, asSource, asTarget, time.Now().UTC())
}

// UpdateStrength sets a relationship's strength. Last write wins under
// concurrent updates; this layer does not serialize them.
func (g *Graph) UpdateStrength(ctx context.Context, id string, strength float64) (*models.Relationship, error) {
	if strength < 0 || strength > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStrength, strength)
	}

	rel, err := g.load(ctx, id)
	if err != nil {
		return nil, err
	}

	rel.Strength = strength
	rel.UpdatedAt = time.Now().UTC()

	if err := g.update(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// UpdateMetadata replaces a relationship's metadata document
func (g *Graph) UpdateMetadata(ctx context.Context, id string, metadata map[string]interface{}) (*models.Relationship, error) {
	rel, err := g.load(ctx, id)
	if err != nil {
		return nil, err
	}

	rel.Metadata = metadata
	rel.UpdatedAt = time.Now().UTC()

	if err := g.update(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// Delete removes a relationship. Returns false when it was already absent.
func (g *Graph) Delete(ctx context.Context, id string) (bool, error) {
	err := g.backend.DeleteRelationship(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CleanupExpired removes every stored relationship whose expiry has
// passed and reports how many were deleted. Reads already filter by
// expiry, so the sweep can run concurrently with them, and deletion is
// idempotent under concurrent sweeps.
func (g *Graph) CleanupExpired(ctx context.Context) (int, error) {
	return g.backend.DeleteExpiredRelationships(ctx, time.Now().UTC())
}

// FindPath finds a shortest path from one entity to another using BFS
// over live outgoing relationships, up to maxDepth hops.
func (g *Graph) FindPath(ctx context.Context, from, to string, maxDepth int) (*models.PathInfo, error) {
	if maxDepth <= 0 {
		maxDepth = 10
	}

	queue := [][]string{{from}}
	visited := map[string]bool{from: true}

	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]

		current := path[len(path)-1]
		if current == to {
			return &models.PathInfo{
				From:   from,
				To:     to,
				Length: len(path) - 1,
				Path:   path,
			}, nil
		}

		if len(path) > maxDepth {
			continue
		}

		rels, err := g.backend.QueryRelationships(ctx, current, true, false, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			if visited[rel.TargetID] {
				continue
			}
			visited[rel.TargetID] = true
			next := make([]string, len(path), len(path)+1)
			copy(next, path)
			queue = append(queue, append(next, rel.TargetID))
		}
	}

	return nil, fmt.Errorf("%w: %s to %s", ErrNoPath, from, to)
}

func (g *Graph) load(ctx context.Context, id string) (*models.Relationship, error) {
	rel, err := g.backend.GetRelationship(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rel, err
}

func (g *Graph) update(ctx context.Context, rel *models.Relationship) error {
	err := g.backend.UpdateRelationship(ctx, rel)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, rel.ID)
	}
	return err
}
