package entity_test

import (
	"context"
	"os"
	"testing"

	"github.com/strataline/strata/pkg/entity"
	"github.com/strataline/strata/pkg/models"
	"github.com/strataline/strata/pkg/registry"
	"github.com/strataline/strata/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStoreTest(t *testing.T) (*entity.Store, *registry.Registry, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "strata-test-*.db")
	require.NoError(t, err)
	tmpFile.Close()

	dbPath := tmpFile.Name()

	backend, err := storage.NewBackend("sqlite", map[string]interface{}{
		"db_path": dbPath,
	})
	require.NoError(t, err)

	reg := registry.New(backend, nil)
	store := entity.New(backend, reg)

	cleanup := func() {
		backend.Close()
		os.Remove(dbPath)
	}

	return store, reg, cleanup
}

func registerPlayerSchema(t *testing.T, reg *registry.Registry) *models.Schema {
	t.Helper()

	min := 0.0
	max := 10.0
	schema, _, err := reg.Register(context.Background(), models.Definition{
		"name":  {Type: models.TypeString, Unique: true, MaxLength: 100},
		"score": {Type: models.TypeFloat, Nullable: true, Min: &min, Max: &max},
	}, "player")
	require.NoError(t, err)
	return schema
}

func registerEmbeddingSchema(t *testing.T, reg *registry.Registry, dim int) *models.Schema {
	t.Helper()

	schema, _, err := reg.Register(context.Background(), models.Definition{
		"label":     {Type: models.TypeString},
		"embedding": {Type: models.TypeVector, Dimension: dim, Indexed: true},
	}, "embedding")
	require.NoError(t, err)
	return schema
}

func TestCreate(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	ctx := context.Background()
	schema := registerPlayerSchema(t, reg)

	ent, err := store.Create(ctx, schema.Hash, "", map[string]interface{}{
		"name":  "Alice",
		"score": 7.5,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ent.ID)
	assert.Equal(t, schema.Hash, ent.SchemaHash)
	assert.Equal(t, "Alice", ent.Data["name"])
	assert.Equal(t, 7.5, ent.Data["score"])
	assert.False(t, ent.CreatedAt.IsZero())
}

func TestCreate_MissingRequiredAttribute(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	schema := registerPlayerSchema(t, reg)

	_, err := store.Create(context.Background(), schema.Hash, "", map[string]interface{}{
		"score": 5.0,
	})

	var merr *entity.MissingAttributeError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "name", merr.Attr)
}

func TestCreate_NullableMayBeOmitted(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	schema := registerPlayerSchema(t, reg)

	ent, err := store.Create(context.Background(), schema.Hash, "", map[string]interface{}{
		"name": "Bob",
	})
	require.NoError(t, err)
	_, present := ent.Data["score"]
	assert.False(t, present)
}

func TestCreate_ConstraintViolations(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	ctx := context.Background()
	schema := registerPlayerSchema(t, reg)

	tests := []struct {
		name string
		data map[string]interface{}
		attr string
	}{
		{"score above max", map[string]interface{}{"name": "A", "score": 10.5}, "score"},
		{"score below min", map[string]interface{}{"name": "A", "score": -1.0}, "score"},
		{"name too long", map[string]interface{}{"name": string(make([]byte, 101))}, "name"},
		{"wrong type", map[string]interface{}{"name": 42}, "name"},
		{"undeclared attribute", map[string]interface{}{"name": "A", "rank": 1}, "rank"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(ctx, schema.Hash, "", tt.data)
			var cerr *entity.ConstraintError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.attr, cerr.Attr)
		})
	}
}

func TestCreate_AppliesDefaults(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	ctx := context.Background()
	schema, _, err := reg.Register(ctx, models.Definition{
		"name":   {Type: models.TypeString},
		"active": {Type: models.TypeBoolean, Default: true},
	}, "")
	require.NoError(t, err)

	ent, err := store.Create(ctx, schema.Hash, "", map[string]interface{}{
		"name": "Carol",
	})
	require.NoError(t, err)
	assert.Equal(t, true, ent.Data["active"])
}

func TestCreate_UnknownSchema(t *testing.T) {
	store, _, cleanup := setupStoreTest(t)
	defer cleanup()

	_, err := store.Create(context.Background(), "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff", "", map[string]interface{}{
		"name": "X",
	})
	assert.ErrorIs(t, err, registry.ErrSchemaNotFound)
}

func TestCreate_WithVector(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	ctx := context.Background()
	schema := registerEmbeddingSchema(t, reg, 4)

	ent, err := store.Create(ctx, schema.Hash, "", map[string]interface{}{
		"label":     "doc",
		"embedding": []float32{0.1, 0.2, 0.3, 0.4},
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, ent.Vector)
	_, inDoc := ent.Data["embedding"]
	assert.False(t, inDoc, "vector value lives in the vector field, not the document")
}

func TestCreate_VectorDimensionMismatch(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	schema := registerEmbeddingSchema(t, reg, 1536)

	_, err := store.Create(context.Background(), schema.Hash, "", map[string]interface{}{
		"label":     "doc",
		"embedding": make([]float32, 10),
	})

	var cerr *entity.ConstraintError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "embedding", cerr.Attr)
}

func TestLoad(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	ctx := context.Background()
	schema := registerPlayerSchema(t, reg)

	created, err := store.Create(ctx, schema.Hash, "", map[string]interface{}{"name": "Dave"})
	require.NoError(t, err)

	got, err := store.Load(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Dave", got.Data["name"])
}

func TestLoad_NotFound(t *testing.T) {
	store, _, cleanup := setupStoreTest(t)
	defer cleanup()

	_, err := store.Load(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestSave_MergesPatch(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	ctx := context.Background()
	schema := registerPlayerSchema(t, reg)

	created, err := store.Create(ctx, schema.Hash, "", map[string]interface{}{
		"name":  "Eve",
		"score": 3.0,
	})
	require.NoError(t, err)

	updated, err := store.Save(ctx, created.ID, map[string]interface{}{
		"score": 9.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "Eve", updated.Data["name"], "unpatched keys survive")
	assert.Equal(t, 9.0, updated.Data["score"])
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt) || updated.UpdatedAt.Equal(created.UpdatedAt))
}

func TestSave_RevalidatesWholeDocument(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	ctx := context.Background()
	schema := registerPlayerSchema(t, reg)

	created, err := store.Create(ctx, schema.Hash, "", map[string]interface{}{"name": "Frank"})
	require.NoError(t, err)

	_, err = store.Save(ctx, created.ID, map[string]interface{}{
		"score": 99.0,
	})
	var cerr *entity.ConstraintError
	require.ErrorAs(t, err, &cerr)

	// Failed save leaves the stored entity untouched
	got, err := store.Load(ctx, created.ID)
	require.NoError(t, err)
	_, present := got.Data["score"]
	assert.False(t, present)
}

func TestSave_NilRemovesKey(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	ctx := context.Background()
	schema := registerPlayerSchema(t, reg)

	created, err := store.Create(ctx, schema.Hash, "", map[string]interface{}{
		"name":  "Grace",
		"score": 5.0,
	})
	require.NoError(t, err)

	updated, err := store.Save(ctx, created.ID, map[string]interface{}{
		"score": nil,
	})
	require.NoError(t, err)
	_, present := updated.Data["score"]
	assert.False(t, present)

	// Removing a required attribute fails re-validation
	_, err = store.Save(ctx, created.ID, map[string]interface{}{
		"name": nil,
	})
	var merr *entity.MissingAttributeError
	assert.ErrorAs(t, err, &merr)
}

func TestSave_PreservesVector(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	ctx := context.Background()
	schema := registerEmbeddingSchema(t, reg, 3)

	created, err := store.Create(ctx, schema.Hash, "", map[string]interface{}{
		"label":     "doc",
		"embedding": []float32{1, 2, 3},
	})
	require.NoError(t, err)

	updated, err := store.Save(ctx, created.ID, map[string]interface{}{
		"label": "renamed",
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, updated.Vector)
}

func TestSave_NotFound(t *testing.T) {
	store, _, cleanup := setupStoreTest(t)
	defer cleanup()

	_, err := store.Save(context.Background(), "no-such-id", map[string]interface{}{"name": "X"})
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestDelete(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	ctx := context.Background()
	schema := registerPlayerSchema(t, reg)

	created, err := store.Create(ctx, schema.Hash, "", map[string]interface{}{"name": "Heidi"})
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.Load(ctx, created.ID)
	assert.ErrorIs(t, err, entity.ErrNotFound)

	// Deleting again reports absent, not an error
	deleted, err = store.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestQuery(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	ctx := context.Background()
	schema := registerPlayerSchema(t, reg)

	for _, p := range []struct {
		name  string
		score float64
	}{
		{"Ivan", 2.0},
		{"Judy", 6.0},
		{"Mallory", 8.0},
	} {
		_, err := store.Create(ctx, schema.Hash, "", map[string]interface{}{
			"name":  p.name,
			"score": p.score,
		})
		require.NoError(t, err)
	}

	all, err := store.Query(ctx, schema.Hash, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	high, err := store.Query(ctx, schema.Hash, &storage.Filter{
		Attribute: "score",
		Op:        "gt",
		Value:     5.0,
	})
	require.NoError(t, err)
	assert.Len(t, high, 2)

	exact, err := store.Query(ctx, schema.Hash, &storage.Filter{
		Attribute: "name",
		Op:        "eq",
		Value:     "Judy",
	})
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.Equal(t, "Judy", exact[0].Data["name"])
}

func TestNearest(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	ctx := context.Background()
	schema := registerEmbeddingSchema(t, reg, 2)

	for label, vec := range map[string][]float32{
		"east":  {1, 0},
		"north": {0, 1},
		"mixed": {0.7, 0.7},
	} {
		_, err := store.Create(ctx, schema.Hash, "", map[string]interface{}{
			"label":     label,
			"embedding": vec,
		})
		require.NoError(t, err)
	}

	got, err := store.Nearest(ctx, schema.Hash, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "east", got[0].Data["label"])
	assert.Equal(t, "mixed", got[1].Data["label"])
}

func TestNearest_NoVectorAttribute(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	schema := registerPlayerSchema(t, reg)

	_, err := store.Nearest(context.Background(), schema.Hash, []float32{1, 0}, 5)
	var cerr *entity.ConstraintError
	assert.ErrorAs(t, err, &cerr)
}

func TestNearest_DimensionMismatch(t *testing.T) {
	store, reg, cleanup := setupStoreTest(t)
	defer cleanup()

	schema := registerEmbeddingSchema(t, reg, 4)

	_, err := store.Nearest(context.Background(), schema.Hash, []float32{1, 0}, 5)
	var cerr *entity.ConstraintError
	assert.ErrorAs(t, err, &cerr)
}
