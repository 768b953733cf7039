package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/strataline/strata/pkg/compiler"
	"github.com/strataline/strata/pkg/models"
)

// SQLiteBackend implements Backend using SQLite. Documents live in JSON
// TEXT columns; secondary indexes are partial expression indexes over
// json_extract, scoped to their schema hash.
type SQLiteBackend struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	config SQLiteConfig
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	DBPath      string
	EnableWAL   bool // Write-Ahead Logging for better concurrency
	CacheSize   int  // Page cache size in KB
	BusyTimeout int  // Milliseconds to wait on locked database
}

// identRe guards attribute names before they are spliced into index DDL
// and json_extract paths.
var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewSQLiteBackend creates a new SQLite-based backend
func NewSQLiteBackend(dbPath string, config SQLiteConfig) (*SQLiteBackend, error) {
	if dbPath == "" {
		dbPath = "strata.db"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	b := &SQLiteBackend{
		db:     db,
		dbPath: dbPath,
		config: config,
	}

	if err := b.initialize(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return b, nil
}

// initialize creates the base tables
func (b *SQLiteBackend) initialize(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA cache_size = -%d", b.config.CacheSize),
		fmt.Sprintf("PRAGMA busy_timeout = %d", b.config.BusyTimeout),
	}

	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	ddl := `
		-- Immutable schema records, content hash as primary key
		CREATE TABLE IF NOT EXISTS schemas (
			hash TEXT PRIMARY KEY,
			alias TEXT,
			definition TEXT NOT NULL, -- canonical JSON
			parent_hash TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_schemas_alias ON schemas(alias, created_at);
		CREATE INDEX IF NOT EXISTS idx_schemas_parent ON schemas(parent_hash);

		-- Entity documents, one row per entity
		CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			schema_hash TEXT NOT NULL,
			alias TEXT,
			data TEXT NOT NULL,   -- JSON document
			vector BLOB,          -- float32 little-endian, NULL unless schema declares one
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_entities_schema ON entities(schema_hash);
		CREATE INDEX IF NOT EXISTS idx_entities_alias ON entities(alias);

		-- Directed typed edges, retrievable from either endpoint
		CREATE TABLE IF NOT EXISTS relationships (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			relation_type TEXT NOT NULL,
			strength REAL NOT NULL DEFAULT 1.0,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			expires_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_rel_source ON relationships(source_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_rel_target ON relationships(target_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_rel_expires ON relationships(expires_at);
	`

	if _, err := b.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// Info returns backend information
func (b *SQLiteBackend) Info() BackendInfo {
	return BackendInfo{
		Type:                "sqlite",
		Version:             "1.0.0",
		SupportsIndexes:     true,
		SupportsTransaction: true,
	}
}

// Close closes the database connection
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// ---------------------------------------------------------------------------
// Schemas
// ---------------------------------------------------------------------------

// PutSchema inserts a schema row if its hash is absent. Concurrent
// registrants of the same definition race on the primary key; the first
// insert wins and everyone else observes created=false.
func (b *SQLiteBackend) PutSchema(ctx context.Context, schema *models.Schema) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	defJSON, err := json.Marshal(schema.Definition)
	if err != nil {
		return false, fmt.Errorf("failed to marshal definition: %w", err)
	}

	res, err := b.db.ExecContext(ctx, `
		INSERT INTO schemas (hash, alias, definition, parent_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, schema.Hash, nullable(schema.Alias), string(defJSON), nullable(schema.ParentHash),
		schema.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("failed to insert schema: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GetSchemaByHash retrieves a schema by its content hash
func (b *SQLiteBackend) GetSchemaByHash(ctx context.Context, hash string) (*models.Schema, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	row := b.db.QueryRowContext(ctx, `
		SELECT hash, alias, definition, parent_hash, created_at
		FROM schemas WHERE hash = ?
	`, hash)

	return scanSchema(row)
}

// GetSchemaByAlias retrieves the most recently created schema carrying the
// alias. Aliases are not unique across history; latest wins.
func (b *SQLiteBackend) GetSchemaByAlias(ctx context.Context, alias string) (*models.Schema, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	row := b.db.QueryRowContext(ctx, `
		SELECT hash, alias, definition, parent_hash, created_at
		FROM schemas WHERE alias = ?
		ORDER BY created_at DESC, hash LIMIT 1
	`, alias)

	return scanSchema(row)
}

// ListSchemas returns all stored schemas ordered by creation time
func (b *SQLiteBackend) ListSchemas(ctx context.Context) ([]*models.Schema, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.db.QueryContext(ctx, `
		SELECT hash, alias, definition, parent_hash, created_at
		FROM schemas ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	defer rows.Close()

	var schemas []*models.Schema
	for rows.Next() {
		schema, err := scanSchema(rows)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	return schemas, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchema(row rowScanner) (*models.Schema, error) {
	var (
		schema     models.Schema
		alias      sql.NullString
		defJSON    string
		parentHash sql.NullString
		createdAt  string
	)

	err := row.Scan(&schema.Hash, &alias, &defJSON, &parentHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan schema: %w", err)
	}

	if err := json.Unmarshal([]byte(defJSON), &schema.Definition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	schema.Alias = alias.String
	schema.ParentHash = parentHash.String
	schema.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &schema, nil
}

// EnsureIndexes creates the secondary indexes declared by a schema's
// attribute metadata. CREATE INDEX IF NOT EXISTS makes concurrent
// duplicate calls safe; vector-similarity attributes take no SQL index
// and are served by NearestEntities instead.
func (b *SQLiteBackend) EnsureIndexes(ctx context.Context, schema *models.Schema) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Deterministic order keeps retries boring
	names := make([]string, 0, len(schema.Definition))
	for name := range schema.Definition {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		desc := schema.Definition[name]
		ct, err := compiler.Compile(desc)
		if err != nil {
			return fmt.Errorf("attribute %q: %w", name, err)
		}
		if ct.Index == compiler.IndexNone || ct.Index == compiler.IndexSimilarity {
			continue
		}
		if !identRe.MatchString(name) {
			return fmt.Errorf("attribute %q: invalid identifier", name)
		}

		ddl := indexDDL(schema.Hash, name, desc, ct.Index)
		if _, err := b.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create index for %q: %w", name, err)
		}
	}

	return nil
}

// indexDDL renders the CREATE INDEX statement for one indexed attribute.
// Indexes are partial (scoped to the schema hash) so two schemas can
// declare the same attribute name without colliding.
func indexDDL(hash, attr string, desc models.AttributeDescriptor, strategy compiler.IndexStrategy) string {
	unique := ""
	if desc.Unique {
		unique = "UNIQUE "
	}

	idxName := fmt.Sprintf("idx_ent_%s_%s", hash[:8], attr)
	expr := fmt.Sprintf("json_extract(data, '$.%s')", attr)

	cols := expr
	if strategy == compiler.IndexComposite {
		cols = expr + ", updated_at"
	}

	return fmt.Sprintf(
		"CREATE %sINDEX IF NOT EXISTS %s ON entities(%s) WHERE schema_hash = '%s'",
		unique, idxName, cols, hash,
	)
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

// PutEntity inserts a new entity row
func (b *SQLiteBackend) PutEntity(ctx context.Context, entity *models.Entity) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dataJSON, err := json.Marshal(entity.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO entities (id, schema_hash, alias, data, vector, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entity.ID, entity.SchemaHash, nullable(entity.Alias), string(dataJSON),
		encodeVector(entity.Vector),
		entity.CreatedAt.UTC().Format(time.RFC3339Nano),
		entity.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return wrapConstraint(err, "failed to insert entity")
	}

	return nil
}

// GetEntity retrieves an entity by ID
func (b *SQLiteBackend) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	row := b.db.QueryRowContext(ctx, `
		SELECT id, schema_hash, alias, data, vector, created_at, updated_at
		FROM entities WHERE id = ?
	`, id)

	return scanEntity(row)
}

// UpdateEntity rewrites an entity row in place
func (b *SQLiteBackend) UpdateEntity(ctx context.Context, entity *models.Entity) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dataJSON, err := json.Marshal(entity.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	res, err := b.db.ExecContext(ctx, `
		UPDATE entities
		SET alias = ?, data = ?, vector = ?, updated_at = ?
		WHERE id = ?
	`, nullable(entity.Alias), string(dataJSON), encodeVector(entity.Vector),
		entity.UpdatedAt.UTC().Format(time.RFC3339Nano), entity.ID)
	if err != nil {
		return wrapConstraint(err, "failed to update entity")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEntity removes an entity row. Relationships referencing the
// entity are left in place; dangling edges are a graph-layer concern.
func (b *SQLiteBackend) DeleteEntity(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, err := b.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// QueryEntities returns entities of a schema matching the filter, or all
// of them when filter is nil.
func (b *SQLiteBackend) QueryEntities(ctx context.Context, schemaHash string, filter *Filter) ([]*models.Entity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	query := `
		SELECT id, schema_hash, alias, data, vector, created_at, updated_at
		FROM entities WHERE schema_hash = ?
	`
	args := []interface{}{schemaHash}

	if filter != nil {
		if !identRe.MatchString(filter.Attribute) {
			return nil, fmt.Errorf("invalid filter attribute: %q", filter.Attribute)
		}
		expr := fmt.Sprintf("json_extract(data, '$.%s')", filter.Attribute)
		switch filter.Op {
		case "eq":
			query += " AND " + expr + " = ?"
			args = append(args, filter.Value)
		case "lt":
			query += " AND " + expr + " < ?"
			args = append(args, filter.Value)
		case "gt":
			query += " AND " + expr + " > ?"
			args = append(args, filter.Value)
		case "contains":
			query += " AND " + expr + " LIKE ?"
			args = append(args, fmt.Sprintf("%%%v%%", filter.Value))
		default:
			return nil, fmt.Errorf("invalid filter op: %q", filter.Op)
		}
	}

	query += " ORDER BY created_at"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// NearestEntities scans the schema's vectors and returns the limit rows
// closest to the query vector by cosine similarity. Brute force: the
// row count per schema is expected to stay modest, and the scan needs no
// index maintenance on writes.
func (b *SQLiteBackend) NearestEntities(ctx context.Context, schemaHash string, vector []float32, limit int) ([]*models.Entity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.db.QueryContext(ctx, `
		SELECT id, schema_hash, alias, data, vector, created_at, updated_at
		FROM entities WHERE schema_hash = ? AND vector IS NOT NULL
	`, schemaHash)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	type scored struct {
		entity *models.Entity
		score  float64
	}

	var candidates []scored
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, scored{entity, cosine(vector, entity.Vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*models.Entity, len(candidates))
	for i, c := range candidates {
		result[i] = c.entity
	}
	return result, nil
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var (
		entity    models.Entity
		alias     sql.NullString
		dataJSON  string
		vecBlob   []byte
		createdAt string
		updatedAt string
	)

	err := row.Scan(&entity.ID, &entity.SchemaHash, &alias, &dataJSON, &vecBlob, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	if err := json.Unmarshal([]byte(dataJSON), &entity.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	entity.Alias = alias.String
	entity.Vector = decodeVector(vecBlob)
	if entity.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if entity.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &entity, nil
}

// ---------------------------------------------------------------------------
// Relationships
// ---------------------------------------------------------------------------

// PutRelationship inserts a relationship row
func (b *SQLiteBackend) PutRelationship(ctx context.Context, rel *models.Relationship) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	metaJSON, err := json.Marshal(orEmpty(rel.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	var expiresAt interface{}
	if rel.ExpiresAt != nil {
		expiresAt = rel.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO relationships
			(id, source_id, target_id, relation_type, strength, metadata, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rel.ID, rel.SourceID, rel.TargetID, rel.Type, rel.Strength, string(metaJSON),
		rel.CreatedAt.UTC().Format(time.RFC3339Nano),
		rel.UpdatedAt.UTC().Format(time.RFC3339Nano),
		expiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert relationship: %w", err)
	}

	return nil
}

// GetRelationship retrieves a relationship by ID regardless of expiry
func (b *SQLiteBackend) GetRelationship(ctx context.Context, id string) (*models.Relationship, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	row := b.db.QueryRowContext(ctx, `
		SELECT id, source_id, target_id, relation_type, strength, metadata, created_at, updated_at, expires_at
		FROM relationships WHERE id = ?
	`, id)

	return scanRelationship(row)
}

// UpdateRelationship rewrites strength and metadata
func (b *SQLiteBackend) UpdateRelationship(ctx context.Context, rel *models.Relationship) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	metaJSON, err := json.Marshal(orEmpty(rel.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	res, err := b.db.ExecContext(ctx, `
		UPDATE relationships
		SET strength = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, rel.Strength, string(metaJSON), rel.UpdatedAt.UTC().Format(time.RFC3339Nano), rel.ID)
	if err != nil {
		return fmt.Errorf("failed to update relationship: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRelationship removes a relationship row
func (b *SQLiteBackend) DeleteRelationship(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, err := b.db.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// QueryRelationships returns live relationships touching an entity,
// newest first. Expired rows are filtered here, not deleted.
func (b *SQLiteBackend) QueryRelationships(ctx context.Context, entityID string, asSource, asTarget bool, now time.Time) ([]*models.Relationship, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !asSource && !asTarget {
		return nil, nil
	}

	var conds []string
	var args []interface{}
	if asSource {
		conds = append(conds, "source_id = ?")
		args = append(args, entityID)
	}
	if asTarget {
		conds = append(conds, "target_id = ?")
		args = append(args, entityID)
	}

	query := fmt.Sprintf(`
		SELECT id, source_id, target_id, relation_type, strength, metadata, created_at, updated_at, expires_at
		FROM relationships
		WHERE (%s) AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at DESC
	`, strings.Join(conds, " OR "))
	args = append(args, now.UTC().Format(time.RFC3339Nano))

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var rels []*models.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// DeleteExpiredRelationships removes every row whose expiry has passed.
// Deletion is idempotent on already-removed ids, so concurrent sweeps
// are safe.
func (b *SQLiteBackend) DeleteExpiredRelationships(ctx context.Context, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	res, err := b.db.ExecContext(ctx, `
		DELETE FROM relationships
		WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired relationships: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func scanRelationship(row rowScanner) (*models.Relationship, error) {
	var (
		rel       models.Relationship
		metaJSON  string
		createdAt string
		updatedAt string
		expiresAt sql.NullString
	)

	err := row.Scan(&rel.ID, &rel.SourceID, &rel.TargetID, &rel.Type, &rel.Strength,
		&metaJSON, &createdAt, &updatedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan relationship: %w", err)
	}

	if err := json.Unmarshal([]byte(metaJSON), &rel.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if rel.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rel.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expires_at: %w", err)
		}
		rel.ExpiresAt = &t
	}

	return &rel, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func wrapConstraint(err error, msg string) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "unique constraint") {
		return fmt.Errorf("%s: %w", msg, ErrUniqueViolation)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// encodeVector packs a vector as little-endian float32 bytes
func encodeVector(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks little-endian float32 bytes
func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// cosine returns the cosine similarity of two vectors, 0 on mismatch
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
