package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/strataline/strata/pkg/models"
)

// JSONFileBackend implements Backend using one JSON file per record.
// Useful for zero-dependency deployments and debugging; queries are
// brute-force scans and no secondary indexes exist.
type JSONFileBackend struct {
	baseDir string
	mu      sync.RWMutex
}

// NewJSONFileBackend creates a new JSON file-based backend
func NewJSONFileBackend(baseDir string) (*JSONFileBackend, error) {
	for _, dir := range []string{"schemas", "entities", "relationships"} {
		if err := os.MkdirAll(filepath.Join(baseDir, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	return &JSONFileBackend{baseDir: baseDir}, nil
}

// Info returns backend information
func (b *JSONFileBackend) Info() BackendInfo {
	return BackendInfo{
		Type:                "jsonfile",
		Version:             "1.0.0",
		SupportsIndexes:     false,
		SupportsTransaction: false,
	}
}

// Close closes the backend (no-op for file storage)
func (b *JSONFileBackend) Close() error {
	return nil
}

func (b *JSONFileBackend) schemaFile(hash string) string {
	return filepath.Join(b.baseDir, "schemas", hash+".json")
}

func (b *JSONFileBackend) entityFile(id string) string {
	return filepath.Join(b.baseDir, "entities", id+".json")
}

func (b *JSONFileBackend) relationshipFile(id string) string {
	return filepath.Join(b.baseDir, "relationships", id+".json")
}

// writeAtomic writes a record via a temp file and rename so a crashed
// write never leaves a torn document behind.
func writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readRecord(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// ---------------------------------------------------------------------------
// Schemas
// ---------------------------------------------------------------------------

// PutSchema inserts a schema if its hash file is absent. The hash names
// the file, so first writer wins and repeats are no-ops.
func (b *JSONFileBackend) PutSchema(ctx context.Context, schema *models.Schema) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.schemaFile(schema.Hash)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	if err := writeAtomic(path, schema); err != nil {
		return false, fmt.Errorf("failed to write schema: %w", err)
	}
	return true, nil
}

// GetSchemaByHash retrieves a schema by its content hash
func (b *JSONFileBackend) GetSchemaByHash(ctx context.Context, hash string) (*models.Schema, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var schema models.Schema
	if err := readRecord(b.schemaFile(hash), &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

// GetSchemaByAlias scans all schemas and returns the most recently
// created one carrying the alias.
func (b *JSONFileBackend) GetSchemaByAlias(ctx context.Context, alias string) (*models.Schema, error) {
	schemas, err := b.ListSchemas(ctx)
	if err != nil {
		return nil, err
	}

	var best *models.Schema
	for _, s := range schemas {
		if s.Alias != alias {
			continue
		}
		if best == nil || s.CreatedAt.After(best.CreatedAt) {
			best = s
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// ListSchemas returns all stored schemas ordered by creation time
func (b *JSONFileBackend) ListSchemas(ctx context.Context) ([]*models.Schema, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	files, err := os.ReadDir(filepath.Join(b.baseDir, "schemas"))
	if err != nil {
		return nil, err
	}

	var schemas []*models.Schema
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		var schema models.Schema
		if err := readRecord(filepath.Join(b.baseDir, "schemas", file.Name()), &schema); err != nil {
			continue
		}
		schemas = append(schemas, &schema)
	}

	sort.Slice(schemas, func(i, j int) bool {
		return schemas[i].CreatedAt.Before(schemas[j].CreatedAt)
	})
	return schemas, nil
}

// EnsureIndexes is a no-op: the file backend scans on every query
func (b *JSONFileBackend) EnsureIndexes(ctx context.Context, schema *models.Schema) error {
	return nil
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

// PutEntity inserts a new entity record
func (b *JSONFileBackend) PutEntity(ctx context.Context, entity *models.Entity) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.entityFile(entity.ID)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("entity %s: %w", entity.ID, ErrAlreadyExists)
	}

	if err := writeAtomic(path, entity); err != nil {
		return fmt.Errorf("failed to write entity: %w", err)
	}
	return nil
}

// GetEntity retrieves an entity by ID
func (b *JSONFileBackend) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var entity models.Entity
	if err := readRecord(b.entityFile(id), &entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

// UpdateEntity rewrites an existing entity record
func (b *JSONFileBackend) UpdateEntity(ctx context.Context, entity *models.Entity) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.entityFile(entity.ID)
	if _, err := os.Stat(path); err != nil {
		return ErrNotFound
	}

	if err := writeAtomic(path, entity); err != nil {
		return fmt.Errorf("failed to write entity: %w", err)
	}
	return nil
}

// DeleteEntity removes an entity record
func (b *JSONFileBackend) DeleteEntity(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := os.Remove(b.entityFile(id))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

// QueryEntities scans entity records for the schema, applying the filter
func (b *JSONFileBackend) QueryEntities(ctx context.Context, schemaHash string, filter *Filter) ([]*models.Entity, error) {
	entities, err := b.listEntities(schemaHash)
	if err != nil {
		return nil, err
	}

	if filter == nil {
		return entities, nil
	}

	var results []*models.Entity
	for _, e := range entities {
		value, ok := e.Data[filter.Attribute]
		if !ok {
			continue
		}
		match, err := matchFilter(value, filter)
		if err != nil {
			return nil, err
		}
		if match {
			results = append(results, e)
		}
	}
	return results, nil
}

func matchFilter(value interface{}, filter *Filter) (bool, error) {
	switch filter.Op {
	case "eq":
		return fmt.Sprintf("%v", value) == fmt.Sprintf("%v", filter.Value), nil
	case "lt", "gt":
		a, aok := value.(float64)
		f, fok := toFloat(filter.Value)
		if !aok || !fok {
			return false, nil
		}
		if filter.Op == "lt" {
			return a < f, nil
		}
		return a > f, nil
	case "contains":
		s, ok := value.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(strings.ToLower(s), strings.ToLower(fmt.Sprintf("%v", filter.Value))), nil
	default:
		return false, fmt.Errorf("invalid filter op: %q", filter.Op)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// NearestEntities scans vectors and ranks by cosine similarity
func (b *JSONFileBackend) NearestEntities(ctx context.Context, schemaHash string, vector []float32, limit int) ([]*models.Entity, error) {
	entities, err := b.listEntities(schemaHash)
	if err != nil {
		return nil, err
	}

	var withVec []*models.Entity
	for _, e := range entities {
		if e.Vector != nil {
			withVec = append(withVec, e)
		}
	}

	sort.SliceStable(withVec, func(i, j int) bool {
		return cosine(vector, withVec[i].Vector) > cosine(vector, withVec[j].Vector)
	})

	if limit > 0 && len(withVec) > limit {
		withVec = withVec[:limit]
	}
	return withVec, nil
}

func (b *JSONFileBackend) listEntities(schemaHash string) ([]*models.Entity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	files, err := os.ReadDir(filepath.Join(b.baseDir, "entities"))
	if err != nil {
		return nil, err
	}

	var entities []*models.Entity
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		var entity models.Entity
		if err := readRecord(filepath.Join(b.baseDir, "entities", file.Name()), &entity); err != nil {
			continue
		}
		if entity.SchemaHash == schemaHash {
			entities = append(entities, &entity)
		}
	}

	sort.Slice(entities, func(i, j int) bool {
		return entities[i].CreatedAt.Before(entities[j].CreatedAt)
	})
	return entities, nil
}

// ---------------------------------------------------------------------------
// Relationships
// ---------------------------------------------------------------------------

// PutRelationship inserts a relationship record
func (b *JSONFileBackend) PutRelationship(ctx context.Context, rel *models.Relationship) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := writeAtomic(b.relationshipFile(rel.ID), rel); err != nil {
		return fmt.Errorf("failed to write relationship: %w", err)
	}
	return nil
}

// GetRelationship retrieves a relationship by ID regardless of expiry
func (b *JSONFileBackend) GetRelationship(ctx context.Context, id string) (*models.Relationship, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var rel models.Relationship
	if err := readRecord(b.relationshipFile(id), &rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// UpdateRelationship rewrites an existing relationship record
func (b *JSONFileBackend) UpdateRelationship(ctx context.Context, rel *models.Relationship) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.relationshipFile(rel.ID)
	if _, err := os.Stat(path); err != nil {
		return ErrNotFound
	}

	if err := writeAtomic(path, rel); err != nil {
		return fmt.Errorf("failed to write relationship: %w", err)
	}
	return nil
}

// DeleteRelationship removes a relationship record
func (b *JSONFileBackend) DeleteRelationship(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := os.Remove(b.relationshipFile(id))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

// QueryRelationships scans relationship records touching an entity,
// filtering expired rows, newest first.
func (b *JSONFileBackend) QueryRelationships(ctx context.Context, entityID string, asSource, asTarget bool, now time.Time) ([]*models.Relationship, error) {
	rels, err := b.listRelationships()
	if err != nil {
		return nil, err
	}

	var results []*models.Relationship
	for _, rel := range rels {
		if rel.Expired(now) {
			continue
		}
		if (asSource && rel.SourceID == entityID) || (asTarget && rel.TargetID == entityID) {
			results = append(results, rel)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

// DeleteExpiredRelationships removes every record whose expiry has passed
func (b *JSONFileBackend) DeleteExpiredRelationships(ctx context.Context, now time.Time) (int, error) {
	rels, err := b.listRelationships()
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, rel := range rels {
		if !rel.Expired(now) {
			continue
		}
		err := os.Remove(b.relationshipFile(rel.ID))
		if err == nil {
			count++
		} else if !os.IsNotExist(err) {
			return count, err
		}
	}
	return count, nil
}

func (b *JSONFileBackend) listRelationships() ([]*models.Relationship, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	files, err := os.ReadDir(filepath.Join(b.baseDir, "relationships"))
	if err != nil {
		return nil, err
	}

	var rels []*models.Relationship
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		var rel models.Relationship
		if err := readRecord(filepath.Join(b.baseDir, "relationships", file.Name()), &rel); err != nil {
			continue
		}
		rels = append(rels, &rel)
	}
	return rels, nil
}
