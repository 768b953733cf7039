package compiler_test

import (
	"testing"

	"github.com/strataline/strata/pkg/compiler"
	"github.com/strataline/strata/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 {
	return &f
}

func TestCompile_String(t *testing.T) {
	ct, err := compiler.Compile(models.AttributeDescriptor{
		Type:      models.TypeString,
		MaxLength: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, compiler.StorageText, ct.Storage)
	assert.Equal(t, compiler.IndexNone, ct.Index)

	assert.NoError(t, ct.Validate("abc"))
	assert.Error(t, ct.Validate("abcdef"))
	assert.Error(t, ct.Validate(42))
}

func TestCompile_Integer(t *testing.T) {
	ct, err := compiler.Compile(models.AttributeDescriptor{
		Type: models.TypeInteger,
		Min:  floatPtr(0),
		Max:  floatPtr(10),
	})
	require.NoError(t, err)
	assert.Equal(t, compiler.StorageInt, ct.Storage)

	assert.NoError(t, ct.Validate(5))
	assert.NoError(t, ct.Validate(float64(7))) // JSON numbers arrive as float64
	assert.Error(t, ct.Validate(7.5))          // fractional
	assert.Error(t, ct.Validate(-1))           // below min
	assert.Error(t, ct.Validate(11))           // above max
	assert.Error(t, ct.Validate("7"))
}

func TestCompile_Float(t *testing.T) {
	ct, err := compiler.Compile(models.AttributeDescriptor{
		Type: models.TypeFloat,
		Min:  floatPtr(0),
		Max:  floatPtr(10),
	})
	require.NoError(t, err)
	assert.Equal(t, compiler.StorageReal, ct.Storage)

	assert.NoError(t, ct.Validate(3.14))
	assert.NoError(t, ct.Validate(0.0))
	assert.NoError(t, ct.Validate(10.0))
	assert.Error(t, ct.Validate(10.1))
	assert.Error(t, ct.Validate(-0.1))
}

func TestCompile_Boolean(t *testing.T) {
	ct, err := compiler.Compile(models.AttributeDescriptor{Type: models.TypeBoolean})
	require.NoError(t, err)
	assert.Equal(t, compiler.StorageBool, ct.Storage)

	assert.NoError(t, ct.Validate(true))
	assert.Error(t, ct.Validate("true"))
}

func TestCompile_Document(t *testing.T) {
	ct, err := compiler.Compile(models.AttributeDescriptor{Type: models.TypeDocument})
	require.NoError(t, err)
	assert.Equal(t, compiler.StorageJSON, ct.Storage)

	assert.NoError(t, ct.Validate(map[string]interface{}{"k": "v"}))
	assert.Error(t, ct.Validate([]interface{}{"not", "a", "map"}))
}

func TestCompile_StringList(t *testing.T) {
	ct, err := compiler.Compile(models.AttributeDescriptor{Type: models.TypeStringList})
	require.NoError(t, err)

	assert.NoError(t, ct.Validate([]string{"a", "b"}))
	assert.NoError(t, ct.Validate([]interface{}{"a", "b"}))
	assert.Error(t, ct.Validate([]interface{}{"a", 2}))
	assert.Error(t, ct.Validate("a"))
}

func TestCompile_NumericList(t *testing.T) {
	ct, err := compiler.Compile(models.AttributeDescriptor{Type: models.TypeNumericList})
	require.NoError(t, err)

	assert.NoError(t, ct.Validate([]float64{1.5, 2.5}))
	assert.NoError(t, ct.Validate([]interface{}{float64(1), float64(2)}))
	assert.Error(t, ct.Validate([]interface{}{float64(1), "two"}))
}

func TestCompile_Vector(t *testing.T) {
	ct, err := compiler.Compile(models.AttributeDescriptor{
		Type:      models.TypeVector,
		Dimension: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, compiler.StorageVector, ct.Storage)

	assert.NoError(t, ct.Validate([]float32{1, 2, 3}))
	assert.NoError(t, ct.Validate([]interface{}{0.1, 0.2, 0.3}))
	assert.Error(t, ct.Validate([]float32{1, 2}), "wrong dimension")
	assert.Error(t, ct.Validate("not a vector"))
}

func TestCompile_VectorRequiresDimension(t *testing.T) {
	_, err := compiler.Compile(models.AttributeDescriptor{Type: models.TypeVector})
	assert.ErrorIs(t, err, compiler.ErrInvalidConstraint)
}

func TestCompile_UnsupportedType(t *testing.T) {
	_, err := compiler.Compile(models.AttributeDescriptor{Type: "datetime"})
	assert.ErrorIs(t, err, compiler.ErrUnsupportedType)
}

func TestCompile_InvalidRange(t *testing.T) {
	_, err := compiler.Compile(models.AttributeDescriptor{
		Type: models.TypeInteger,
		Min:  floatPtr(10),
		Max:  floatPtr(0),
	})
	assert.ErrorIs(t, err, compiler.ErrInvalidConstraint)
}

func TestCompile_IndexStrategies(t *testing.T) {
	tests := []struct {
		name string
		desc models.AttributeDescriptor
		want compiler.IndexStrategy
	}{
		{"unindexed", models.AttributeDescriptor{Type: models.TypeString}, compiler.IndexNone},
		{"indexed default", models.AttributeDescriptor{Type: models.TypeString, Indexed: true}, compiler.IndexGeneric},
		{"ordered", models.AttributeDescriptor{Type: models.TypeFloat, Indexed: true, IndexKind: models.IndexOrdered}, compiler.IndexOrdered},
		{"composite", models.AttributeDescriptor{Type: models.TypeString, Indexed: true, IndexKind: models.IndexComposite}, compiler.IndexComposite},
		{"unique implies index", models.AttributeDescriptor{Type: models.TypeString, Unique: true}, compiler.IndexGeneric},
		{"vector default", models.AttributeDescriptor{Type: models.TypeVector, Dimension: 4, Indexed: true}, compiler.IndexSimilarity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := compiler.Compile(tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ct.Index)
		})
	}
}

func TestCompile_VectorIndexOnNonVector(t *testing.T) {
	_, err := compiler.Compile(models.AttributeDescriptor{
		Type:      models.TypeString,
		Indexed:   true,
		IndexKind: models.IndexVector,
	})
	assert.ErrorIs(t, err, compiler.ErrInvalidConstraint)
}

func TestCompile_UnknownIndexKind(t *testing.T) {
	_, err := compiler.Compile(models.AttributeDescriptor{
		Type:      models.TypeString,
		Indexed:   true,
		IndexKind: "btree",
	})
	assert.ErrorIs(t, err, compiler.ErrInvalidConstraint)
}

func TestAsVector(t *testing.T) {
	vec, ok := compiler.AsVector([]interface{}{0.5, 1.5})
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, 1.5}, vec)

	vec, ok = compiler.AsVector([]float64{1, 2})
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, vec)

	_, ok = compiler.AsVector("nope")
	assert.False(t, ok)

	_, ok = compiler.AsVector([]interface{}{0.5, "x"})
	assert.False(t, ok)
}
