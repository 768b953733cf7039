// Package entity implements the entity store: mutable records that each
// conform to exactly one registered schema. Every write validates the
// full document against the schema's compiled attribute predicates before
// anything reaches the backend.
package entity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/strataline/strata/pkg/compiler"
	"github.com/strataline/strata/pkg/models"
	"github.com/strataline/strata/pkg/registry"
	"github.com/strataline/strata/pkg/storage"
)

// ErrNotFound is returned when an entity does not exist
var ErrNotFound = errors.New("entity not found")

// MissingAttributeError reports a required attribute absent from a document.
type MissingAttributeError struct {
	Attr string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("missing required attribute %q", e.Attr)
}

// ConstraintError reports a document value that fails its attribute
// descriptor (wrong type, range, length, vector dimension, or an
// attribute the schema never declared).
type ConstraintError struct {
	Attr string
	Err  error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("attribute %q: %v", e.Attr, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// Store creates, loads and saves entities against registered schemas.
type Store struct {
	backend  storage.Backend
	registry *registry.Registry
}

// New creates an entity store
func New(backend storage.Backend, reg *registry.Registry) *Store {
	return &Store{backend: backend, registry: reg}
}

// Create validates data against the schema and persists a new entity.
// Validation failures never reach the backend. The ID is generated
// locally; it is not content-addressed.
func (s *Store) Create(ctx context.Context, schemaHash, alias string, data map[string]interface{}) (*models.Entity, error) {
	schema, err := s.registry.GetByHash(ctx, schemaHash)
	if err != nil {
		return nil, err
	}

	doc, vector, err := validate(schema, data)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ent := &models.Entity{
		ID:         uuid.NewString(),
		SchemaHash: schema.Hash,
		Alias:      alias,
		Data:       doc,
		Vector:     vector,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.backend.PutEntity(ctx, ent); err != nil {
		return nil, err
	}
	return ent, nil
}

// Load retrieves an entity by ID
func (s *Store) Load(ctx context.Context, id string) (*models.Entity, error) {
	ent, err := s.backend.GetEntity(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ent, err
}

// Save merges a patch into an entity's document, re-validates the whole
// result against the entity's schema (cross-field constraints may exist,
// so patched keys alone are not enough) and persists it. A nil patch
// value removes the key; required attributes then fail validation.
// Concurrent saves to the same entity are not serialized here: each call
// loads, mutates a local copy and writes back, and the last write wins.
func (s *Store) Save(ctx context.Context, id string, patch map[string]interface{}) (*models.Entity, error) {
	ent, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	schema, err := s.registry.GetByHash(ctx, ent.SchemaHash)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]interface{}, len(ent.Data)+len(patch))
	for k, v := range ent.Data {
		merged[k] = v
	}
	if name, _, ok := schema.VectorAttribute(); ok && ent.Vector != nil {
		merged[name] = ent.Vector
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = v
		}
	}

	doc, vector, err := validate(schema, merged)
	if err != nil {
		return nil, err
	}

	ent.Data = doc
	ent.Vector = vector
	ent.UpdatedAt = time.Now().UTC()

	if err := s.backend.UpdateEntity(ctx, ent); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return ent, nil
}

// Delete removes an entity. Relationships pointing at it are left alone;
// dangling edges are tolerated and remain queryable from the surviving
// endpoint. Returns false when the entity was already absent.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	err := s.backend.DeleteEntity(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Query returns entities of a schema matching the filter
func (s *Store) Query(ctx context.Context, schemaHash string, filter *storage.Filter) ([]*models.Entity, error) {
	if _, err := s.registry.GetByHash(ctx, schemaHash); err != nil {
		return nil, err
	}
	return s.backend.QueryEntities(ctx, schemaHash, filter)
}

// Nearest returns the entities of a schema whose vectors are closest to
// the query vector. The schema must declare a vector attribute and the
// query must match its dimension.
func (s *Store) Nearest(ctx context.Context, schemaHash string, vector []float32, limit int) ([]*models.Entity, error) {
	schema, err := s.registry.GetByHash(ctx, schemaHash)
	if err != nil {
		return nil, err
	}

	name, desc, ok := schema.VectorAttribute()
	if !ok {
		return nil, &ConstraintError{Attr: "", Err: errors.New("schema declares no vector attribute")}
	}
	if len(vector) != desc.Dimension {
		return nil, &ConstraintError{Attr: name,
			Err: fmt.Errorf("query vector length %d does not match dimension %d", len(vector), desc.Dimension)}
	}

	return s.backend.NearestEntities(ctx, schemaHash, vector, limit)
}

// validate checks a document against every attribute descriptor of the
// schema, applies defaults, and splits off the vector attribute's value
// for the entity's dedicated vector field. Attribute order is sorted so
// the first error is deterministic.
func validate(schema *models.Schema, data map[string]interface{}) (map[string]interface{}, []float32, error) {
	// Every key present must be declared
	for key := range data {
		if _, ok := schema.Definition[key]; !ok {
			return nil, nil, &ConstraintError{Attr: key, Err: errors.New("attribute not declared by schema")}
		}
	}

	names := make([]string, 0, len(schema.Definition))
	for name := range schema.Definition {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := make(map[string]interface{}, len(data))
	var vector []float32

	for _, name := range names {
		desc := schema.Definition[name]

		value, present := data[name]
		if !present {
			if desc.Default != nil {
				value = desc.Default
			} else if desc.Required() {
				return nil, nil, &MissingAttributeError{Attr: name}
			} else {
				continue
			}
		}

		ct, err := compiler.Compile(desc)
		if err != nil {
			// Registration validated the definition; a failure here means
			// a corrupted stored schema
			return nil, nil, &ConstraintError{Attr: name, Err: err}
		}
		if err := ct.Validate(value); err != nil {
			return nil, nil, &ConstraintError{Attr: name, Err: err}
		}

		if desc.Type == models.TypeVector {
			vector, _ = compiler.AsVector(value)
			continue
		}
		doc[name] = value
	}

	return doc, vector, nil
}
