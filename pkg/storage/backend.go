// Package storage provides the persistence backends for strata: one row
// per schema, entity or relationship, with the entity document held in a
// JSON column plus an optional fixed-length vector column. Backends are
// registered by name and constructed through the factory.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/strataline/strata/pkg/models"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when inserting over an existing primary key
	ErrAlreadyExists = errors.New("record already exists")
	// ErrUniqueViolation is returned when a unique attribute index rejects a write
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// Filter selects entities by a single attribute predicate.
// Op is one of "eq", "lt", "gt", "contains".
type Filter struct {
	Attribute string      `json:"attribute"`
	Op        string      `json:"op"`
	Value     interface{} `json:"value"`
}

// Backend is the persistence contract consumed by the registry, entity
// store and relationship graph. Every method is a scoped, atomic
// single-record operation; no call leaves partial state behind when the
// context is cancelled before its write commits.
type Backend interface {
	// Schema rows. PutSchema is insert-if-absent on the hash primary key
	// and reports whether this call created the row (first writer wins).
	PutSchema(ctx context.Context, schema *models.Schema) (created bool, err error)
	GetSchemaByHash(ctx context.Context, hash string) (*models.Schema, error)
	GetSchemaByAlias(ctx context.Context, alias string) (*models.Schema, error)
	ListSchemas(ctx context.Context) ([]*models.Schema, error)

	// EnsureIndexes creates secondary indexes for every indexed attribute
	// of the schema. Idempotent and safe under concurrent duplicate calls.
	EnsureIndexes(ctx context.Context, schema *models.Schema) error

	// Entity rows.
	PutEntity(ctx context.Context, entity *models.Entity) error
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	UpdateEntity(ctx context.Context, entity *models.Entity) error
	DeleteEntity(ctx context.Context, id string) error
	QueryEntities(ctx context.Context, schemaHash string, filter *Filter) ([]*models.Entity, error)

	// NearestEntities returns up to limit entities of the schema ordered
	// by descending cosine similarity to the query vector.
	NearestEntities(ctx context.Context, schemaHash string, vector []float32, limit int) ([]*models.Entity, error)

	// Relationship rows.
	PutRelationship(ctx context.Context, rel *models.Relationship) error
	GetRelationship(ctx context.Context, id string) (*models.Relationship, error)
	UpdateRelationship(ctx context.Context, rel *models.Relationship) error
	DeleteRelationship(ctx context.Context, id string) error

	// QueryRelationships returns live (non-expired at now) relationships
	// touching the entity, newest first.
	QueryRelationships(ctx context.Context, entityID string, asSource, asTarget bool, now time.Time) ([]*models.Relationship, error)

	// DeleteExpiredRelationships removes rows whose expiry has passed and
	// reports how many were deleted. Idempotent under concurrent sweeps.
	DeleteExpiredRelationships(ctx context.Context, now time.Time) (int, error)

	// Lifecycle
	Close() error
}

// BackendInfo provides metadata about a backend implementation.
type BackendInfo struct {
	Type                string // "sqlite", "jsonfile", ...
	Version             string
	SupportsIndexes     bool
	SupportsTransaction bool
}

// InfoProvider allows backends to describe their capabilities.
type InfoProvider interface {
	Info() BackendInfo
}
