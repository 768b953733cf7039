// Package registry creates and looks up immutable, content-addressed
// schema records. A schema's identity is the SHA-256 of its canonicalized
// definition; registering an existing definition is an idempotent no-op,
// and evolution produces a new schema linked to its parent.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/strataline/strata/pkg/cache"
	"github.com/strataline/strata/pkg/compiler"
	"github.com/strataline/strata/pkg/models"
	"github.com/strataline/strata/pkg/storage"
)

var (
	// ErrSchemaNotFound is returned when no schema matches a hash or alias
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrNoEvolution is returned when an evolution reproduces an ancestor definition
	ErrNoEvolution = errors.New("evolution produces no change over lineage")
	// ErrLineageCycle is returned when a parent chain loops back on itself
	ErrLineageCycle = errors.New("cycle detected in schema lineage")
	// ErrEmptyDefinition is returned when a definition has no attributes
	ErrEmptyDefinition = errors.New("definition has no attributes")
)

// ValidationError reports a malformed attribute in a definition.
type ValidationError struct {
	Attr string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("attribute %q: %v", e.Attr, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// attrNameRe restricts attribute names, which end up in index DDL and
// json_extract paths.
var attrNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Registry registers and resolves schemas against a backend. The cache
// holds schema records, which are immutable and therefore never go stale
// when addressed by hash.
type Registry struct {
	backend storage.Backend
	cache   cache.Cache
}

// New creates a registry. The cache may be nil to disable caching.
func New(backend storage.Backend, c cache.Cache) *Registry {
	return &Registry{backend: backend, cache: c}
}

// Canonicalize normalizes a definition and renders its canonical JSON
// form. Attribute names are sorted (Go marshals map keys in order) and
// semantically equal descriptors always render to the same bytes, so
// hashing is independent of declaration order and literal formatting.
func Canonicalize(def models.Definition) ([]byte, error) {
	normalized, err := normalize(def)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// Hash computes the content hash of a definition: 64 hex characters of
// SHA-256 over the canonical form.
func Hash(def models.Definition) (string, error) {
	canonical, err := Canonicalize(def)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// normalize validates every attribute and fills defaulted fields so two
// spellings of the same definition compare equal. Fails fast on the
// first invalid attribute, in name order.
func normalize(def models.Definition) (models.Definition, error) {
	if len(def) == 0 {
		return nil, ErrEmptyDefinition
	}

	names := make([]string, 0, len(def))
	for name := range def {
		names = append(names, name)
	}
	sort.Strings(names)

	vectors := 0
	out := make(models.Definition, len(def))
	for _, name := range names {
		if !attrNameRe.MatchString(name) {
			return nil, &ValidationError{Attr: name, Err: errors.New("invalid attribute name")}
		}

		desc := def[name]
		if desc.Indexed && desc.IndexKind == "" {
			if desc.Type == models.TypeVector {
				desc.IndexKind = models.IndexVector
			} else {
				desc.IndexKind = models.IndexGeneric
			}
		}

		if _, err := compiler.Compile(desc); err != nil {
			return nil, &ValidationError{Attr: name, Err: err}
		}

		if desc.Type == models.TypeVector {
			vectors++
			if vectors > 1 {
				return nil, &ValidationError{Attr: name, Err: errors.New("definition declares more than one vector attribute")}
			}
		}

		out[name] = desc
	}

	return out, nil
}

// Register canonicalizes and stores a definition, returning the schema
// and whether this call created it. Registering an existing definition
// succeeds with created=false; concurrent registrants race on the
// backend's hash primary key, never on client-side locks. On first
// creation the backend's secondary indexes are issued; index creation is
// idempotent and may be retried by re-registering.
func (r *Registry) Register(ctx context.Context, def models.Definition, alias string) (*models.Schema, bool, error) {
	return r.register(ctx, def, alias, "")
}

func (r *Registry) register(ctx context.Context, def models.Definition, alias, parentHash string) (*models.Schema, bool, error) {
	normalized, err := normalize(def)
	if err != nil {
		return nil, false, err
	}

	hash, err := Hash(normalized)
	if err != nil {
		return nil, false, err
	}

	schema := &models.Schema{
		Hash:       hash,
		Alias:      alias,
		Definition: normalized,
		ParentHash: parentHash,
		CreatedAt:  time.Now().UTC(),
	}

	created, err := r.backend.PutSchema(ctx, schema)
	if err != nil {
		return nil, false, err
	}

	if !created {
		existing, err := r.backend.GetSchemaByHash(ctx, hash)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if err := r.backend.EnsureIndexes(ctx, schema); err != nil {
		return nil, false, fmt.Errorf("schema stored but index creation failed: %w", err)
	}

	r.cachePut(ctx, "schema:hash:"+hash, schema)
	if alias != "" {
		// New holder of the alias; drop any cached older mapping
		r.cacheDrop(ctx, "schema:alias:"+alias)
	}

	return schema, true, nil
}

// GetByHash retrieves a schema by content hash
func (r *Registry) GetByHash(ctx context.Context, hash string) (*models.Schema, error) {
	if schema, ok := r.cacheGet(ctx, "schema:hash:"+hash); ok {
		return schema, nil
	}

	schema, err := r.backend.GetSchemaByHash(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, hash)
	}
	if err != nil {
		return nil, err
	}

	r.cachePut(ctx, "schema:hash:"+hash, schema)
	return schema, nil
}

// GetByAlias retrieves the most recently created schema with the alias
func (r *Registry) GetByAlias(ctx context.Context, alias string) (*models.Schema, error) {
	if schema, ok := r.cacheGet(ctx, "schema:alias:"+alias); ok {
		return schema, nil
	}

	schema, err := r.backend.GetSchemaByAlias(ctx, alias)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: alias %q", ErrSchemaNotFound, alias)
	}
	if err != nil {
		return nil, err
	}

	r.cachePut(ctx, "schema:alias:"+alias, schema)
	return schema, nil
}

// Evolve applies changes to a parent definition and registers the result
// as a new schema with parent_hash set. The parent's alias carries over,
// so alias lookups resolve to the newest evolution. An evolution whose
// definition already appears in the lineage is rejected with
// ErrNoEvolution rather than silently accepted.
func (r *Registry) Evolve(ctx context.Context, parentHash string, changes models.Changes) (*models.Schema, error) {
	parent, err := r.GetByHash(ctx, parentHash)
	if err != nil {
		return nil, err
	}

	def := make(models.Definition, len(parent.Definition))
	for name, desc := range parent.Definition {
		def[name] = desc
	}

	for _, name := range changes.Remove {
		if _, ok := def[name]; !ok {
			return nil, &ValidationError{Attr: name, Err: errors.New("cannot remove undeclared attribute")}
		}
		delete(def, name)
	}
	for name, desc := range changes.Add {
		def[name] = desc
	}

	newHash, err := Hash(def)
	if err != nil {
		return nil, err
	}

	lineage, err := r.Lineage(ctx, parent.Hash)
	if err != nil {
		return nil, err
	}
	for _, ancestor := range lineage {
		if ancestor.Hash == newHash {
			return nil, fmt.Errorf("%w: result matches ancestor %s", ErrNoEvolution, newHash)
		}
	}

	schema, _, err := r.register(ctx, def, parent.Alias, parent.Hash)
	return schema, err
}

// Lineage walks the parent chain from a schema up to its root ancestor.
// The chain is bounded by a visited set: immutability should make cycles
// impossible, but a broken migration must fail loudly, not loop.
func (r *Registry) Lineage(ctx context.Context, hash string) ([]*models.Schema, error) {
	var chain []*models.Schema
	visited := make(map[string]bool)

	current := hash
	for current != "" {
		if visited[current] {
			return nil, fmt.Errorf("%w: at %s", ErrLineageCycle, current)
		}
		visited[current] = true

		schema, err := r.GetByHash(ctx, current)
		if err != nil {
			return nil, err
		}
		chain = append(chain, schema)
		current = schema.ParentHash
	}

	return chain, nil
}

// cacheGet fetches a schema from the cache. Values survive JSON
// round-trips (Redis), so they are stored marshaled.
func (r *Registry) cacheGet(ctx context.Context, key string) (*models.Schema, bool) {
	if r.cache == nil {
		return nil, false
	}

	val, err := r.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	raw, ok := val.(string)
	if !ok {
		return nil, false
	}

	var schema models.Schema
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		return nil, false
	}
	return &schema, true
}

func (r *Registry) cachePut(ctx context.Context, key string, schema *models.Schema) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return
	}
	_ = r.cache.Set(ctx, key, string(data), 0)
}

func (r *Registry) cacheDrop(ctx context.Context, key string) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Delete(ctx, key)
}
