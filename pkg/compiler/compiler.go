// Package compiler maps attribute type descriptors to storage classes,
// index strategies and validation predicates. Compilation is pure: the
// same descriptor always compiles to the same result, which is what keeps
// schema content-hashing deterministic.
package compiler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/strataline/strata/pkg/models"
)

var (
	// ErrUnsupportedType is returned when descriptor.Type is outside the closed set
	ErrUnsupportedType = errors.New("unsupported attribute type")
	// ErrInvalidConstraint is returned when a constraint is malformed for its type
	ErrInvalidConstraint = errors.New("invalid attribute constraint")
)

// StorageClass tags how a compiled attribute is stored in the backend.
type StorageClass string

const (
	StorageText   StorageClass = "text"
	StorageInt    StorageClass = "int"
	StorageReal   StorageClass = "real"
	StorageBool   StorageClass = "bool"
	StorageJSON   StorageClass = "json"
	StorageVector StorageClass = "vector"
)

// IndexStrategy tags which secondary index the backend should build.
type IndexStrategy string

const (
	IndexNone       IndexStrategy = "none"
	IndexGeneric    IndexStrategy = "generic"
	IndexOrdered    IndexStrategy = "ordered"
	IndexComposite  IndexStrategy = "composite"
	IndexSimilarity IndexStrategy = "vector"
)

// CompiledType is the result of compiling a descriptor: where the value
// goes, how it is indexed, and how candidate values are checked.
type CompiledType struct {
	Storage  StorageClass
	Index    IndexStrategy
	Validate func(value interface{}) error
}

// Compile maps a descriptor to a CompiledType. It is side-effect free and
// fails with ErrUnsupportedType or ErrInvalidConstraint.
func Compile(desc models.AttributeDescriptor) (CompiledType, error) {
	strategy, err := indexStrategy(desc)
	if err != nil {
		return CompiledType{}, err
	}

	switch desc.Type {
	case models.TypeString:
		if desc.MaxLength < 0 {
			return CompiledType{}, fmt.Errorf("%w: max_length must be positive, got %d", ErrInvalidConstraint, desc.MaxLength)
		}
		return CompiledType{Storage: StorageText, Index: strategy, Validate: validateString(desc)}, nil

	case models.TypeInteger:
		if err := checkRange(desc); err != nil {
			return CompiledType{}, err
		}
		return CompiledType{Storage: StorageInt, Index: strategy, Validate: validateInteger(desc)}, nil

	case models.TypeFloat:
		if err := checkRange(desc); err != nil {
			return CompiledType{}, err
		}
		return CompiledType{Storage: StorageReal, Index: strategy, Validate: validateFloat(desc)}, nil

	case models.TypeBoolean:
		return CompiledType{Storage: StorageBool, Index: strategy, Validate: validateBoolean}, nil

	case models.TypeDocument:
		return CompiledType{Storage: StorageJSON, Index: strategy, Validate: validateDocument}, nil

	case models.TypeStringList:
		return CompiledType{Storage: StorageJSON, Index: strategy, Validate: validateStringList}, nil

	case models.TypeNumericList:
		return CompiledType{Storage: StorageJSON, Index: strategy, Validate: validateNumericList}, nil

	case models.TypeVector:
		if desc.Dimension <= 0 {
			return CompiledType{}, fmt.Errorf("%w: vector dimension must be positive, got %d", ErrInvalidConstraint, desc.Dimension)
		}
		if strategy == IndexNone && desc.Indexed {
			strategy = IndexSimilarity
		}
		return CompiledType{Storage: StorageVector, Index: strategy, Validate: validateVector(desc)}, nil

	default:
		return CompiledType{}, fmt.Errorf("%w: %q", ErrUnsupportedType, desc.Type)
	}
}

// indexStrategy resolves the declared index kind for a descriptor.
// Unique attributes are always indexed so the backend can enforce them.
func indexStrategy(desc models.AttributeDescriptor) (IndexStrategy, error) {
	if !desc.Indexed && !desc.Unique {
		return IndexNone, nil
	}

	kind := desc.IndexKind
	if kind == "" {
		if desc.Type == models.TypeVector {
			kind = models.IndexVector
		} else {
			kind = models.IndexGeneric
		}
	}

	switch kind {
	case models.IndexGeneric:
		return IndexGeneric, nil
	case models.IndexOrdered:
		return IndexOrdered, nil
	case models.IndexComposite:
		return IndexComposite, nil
	case models.IndexVector:
		if desc.Type != models.TypeVector {
			return IndexNone, fmt.Errorf("%w: vector index on non-vector type %q", ErrInvalidConstraint, desc.Type)
		}
		return IndexSimilarity, nil
	default:
		return IndexNone, fmt.Errorf("%w: unknown index kind %q", ErrInvalidConstraint, kind)
	}
}

func checkRange(desc models.AttributeDescriptor) error {
	if desc.Min != nil && desc.Max != nil && *desc.Min > *desc.Max {
		return fmt.Errorf("%w: min %v greater than max %v", ErrInvalidConstraint, *desc.Min, *desc.Max)
	}
	return nil
}

func validateString(desc models.AttributeDescriptor) func(interface{}) error {
	return func(value interface{}) error {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		if desc.MaxLength > 0 && len(s) > desc.MaxLength {
			return fmt.Errorf("string length %d exceeds max_length %d", len(s), desc.MaxLength)
		}
		return nil
	}
}

func validateInteger(desc models.AttributeDescriptor) func(interface{}) error {
	return func(value interface{}) error {
		f, ok := asNumber(value)
		if !ok {
			return fmt.Errorf("expected integer, got %T", value)
		}
		if f != math.Trunc(f) {
			return fmt.Errorf("expected integer, got fractional value %v", f)
		}
		return checkBounds(desc, f)
	}
}

func validateFloat(desc models.AttributeDescriptor) func(interface{}) error {
	return func(value interface{}) error {
		f, ok := asNumber(value)
		if !ok {
			return fmt.Errorf("expected float, got %T", value)
		}
		return checkBounds(desc, f)
	}
}

func checkBounds(desc models.AttributeDescriptor, f float64) error {
	if desc.Min != nil && f < *desc.Min {
		return fmt.Errorf("value %v below min %v", f, *desc.Min)
	}
	if desc.Max != nil && f > *desc.Max {
		return fmt.Errorf("value %v above max %v", f, *desc.Max)
	}
	return nil
}

func validateBoolean(value interface{}) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("expected boolean, got %T", value)
	}
	return nil
}

func validateDocument(value interface{}) error {
	if _, ok := value.(map[string]interface{}); !ok {
		return fmt.Errorf("expected document, got %T", value)
	}
	return nil
}

func validateStringList(value interface{}) error {
	switch v := value.(type) {
	case []string:
		return nil
	case []interface{}:
		for i, item := range v {
			if _, ok := item.(string); !ok {
				return fmt.Errorf("string-list element %d is %T, not string", i, item)
			}
		}
		return nil
	default:
		return fmt.Errorf("expected string-list, got %T", value)
	}
}

func validateNumericList(value interface{}) error {
	switch v := value.(type) {
	case []float64, []float32, []int:
		return nil
	case []interface{}:
		for i, item := range v {
			if _, ok := asNumber(item); !ok {
				return fmt.Errorf("numeric-list element %d is %T, not numeric", i, item)
			}
		}
		return nil
	default:
		return fmt.Errorf("expected numeric-list, got %T", value)
	}
}

func validateVector(desc models.AttributeDescriptor) func(interface{}) error {
	return func(value interface{}) error {
		vec, ok := AsVector(value)
		if !ok {
			return fmt.Errorf("expected vector, got %T", value)
		}
		if len(vec) != desc.Dimension {
			return fmt.Errorf("vector length %d does not match dimension %d", len(vec), desc.Dimension)
		}
		return nil
	}
}

// AsVector coerces the JSON representations of a vector value into
// []float32. JSON unmarshaling yields []interface{} of float64.
func AsVector(value interface{}) ([]float32, bool) {
	switch v := value.(type) {
	case []float32:
		return v, true
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out, true
	case []interface{}:
		out := make([]float32, len(v))
		for i, item := range v {
			f, ok := asNumber(item)
			if !ok {
				return nil, false
			}
			out[i] = float32(f)
		}
		return out, true
	default:
		return nil, false
	}
}

func asNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
