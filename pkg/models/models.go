package models

import (
	"time"
)

// Attribute type names form a closed set. Anything else fails compilation.
const (
	TypeString      = "string"
	TypeInteger     = "integer"
	TypeFloat       = "float"
	TypeBoolean     = "boolean"
	TypeDocument    = "document"
	TypeStringList  = "string-list"
	TypeNumericList = "numeric-list"
	TypeVector      = "vector"
)

// Index kinds selectable on an indexed attribute.
const (
	IndexGeneric   = "generic"
	IndexOrdered   = "ordered"
	IndexComposite = "composite"
	IndexVector    = "vector"
)

// AttributeDescriptor describes a single attribute of a schema definition.
// MaxLength applies to string, Min/Max to numeric types, Dimension to vector.
type AttributeDescriptor struct {
	Type      string      `json:"type"`
	Nullable  bool        `json:"nullable,omitempty"`
	Unique    bool        `json:"unique,omitempty"`
	Indexed   bool        `json:"indexed,omitempty"`
	IndexKind string      `json:"index_kind,omitempty"`
	MaxLength int         `json:"max_length,omitempty"`
	Min       *float64    `json:"min,omitempty"`
	Max       *float64    `json:"max,omitempty"`
	Dimension int         `json:"dimension,omitempty"`
	Default   interface{} `json:"default,omitempty"`
}

// Required reports whether an entity document must carry this attribute.
func (d AttributeDescriptor) Required() bool {
	return !d.Nullable && d.Default == nil
}

// Definition maps attribute names to their descriptors. Hashing
// canonicalizes the map, so declaration order never matters.
type Definition map[string]AttributeDescriptor

// Schema is an immutable, content-addressed schema record. Hash is the
// primary identity; Alias is a human label that may be reused across
// evolutions; ParentHash links an evolution to its predecessor.
type Schema struct {
	Hash       string     `json:"hash"`
	Alias      string     `json:"alias,omitempty"`
	Definition Definition `json:"definition"`
	ParentHash string     `json:"parent_hash,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// VectorAttribute returns the name and descriptor of the schema's vector
// attribute, if any. Registration enforces at most one per definition.
func (s *Schema) VectorAttribute() (string, AttributeDescriptor, bool) {
	for name, desc := range s.Definition {
		if desc.Type == TypeVector {
			return name, desc, true
		}
	}
	return "", AttributeDescriptor{}, false
}

// Changes describes an evolution step: attributes to add and to remove.
type Changes struct {
	Add    map[string]AttributeDescriptor `json:"add,omitempty"`
	Remove []string                       `json:"remove,omitempty"`
}

// Entity is a mutable record conforming to exactly one schema. The ID is
// locally generated, never content-addressed. Vector holds the value of
// the schema's vector attribute and is absent otherwise.
type Entity struct {
	ID         string                 `json:"id"`
	SchemaHash string                 `json:"schema_hash"`
	Alias      string                 `json:"alias,omitempty"`
	Data       map[string]interface{} `json:"data"`
	Vector     []float32              `json:"vector,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Relationship is a directed, typed, optionally expiring edge between two
// entities. Expired rows are filtered from reads but stay stored until a
// cleanup pass removes them.
type Relationship struct {
	ID        string                 `json:"id"`
	SourceID  string                 `json:"source_id"`
	TargetID  string                 `json:"target_id"`
	Type      string                 `json:"relation_type"`
	Strength  float64                `json:"strength"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty"`
}

// Expired reports whether the relationship is past its expiry at the
// given instant.
func (r *Relationship) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// ErrorResponse is the wire shape for API errors.
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"error"`
}

// RegisterResponse reports the outcome of a schema registration.
type RegisterResponse struct {
	Hash    string `json:"hash"`
	Created bool   `json:"created"`
}

// PathInfo represents a path between two entities in the relationship graph.
type PathInfo struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Length int      `json:"length"`
	Path   []string `json:"path"`
}
