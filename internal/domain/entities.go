package domain

import "fmt"

// FieldKind is the semantic type of a record field.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindFloat
	KindBool
	KindBytes
	KindVector
)

func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindFloat:
		return "number"
	case KindBool:
		return "boolean"
	case KindBytes:
		return "bytes"
	case KindVector:
		return "vector"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Field describes one declared field of a record type.
type Field struct {
	Name     string
	Kind     FieldKind
	Optional bool
	// Dim is the declared vector length. Zero means the length is fixed by
	// the first record inserted into an index.
	Dim int
}

// BaseShape is the closed set of recognized abstract record kinds a schema
// must specialize. Each shape carries a fixed field contract instead of
// relying on subtype dispatch.
type BaseShape int

const (
	// ShapeDocument is a generic document with no conventional fields.
	ShapeDocument BaseShape = iota
	// ShapeTextDocument carries a primary "text" field and, by convention,
	// an "embedding" vector field.
	ShapeTextDocument
)

func (s BaseShape) String() string {
	switch s {
	case ShapeDocument:
		return "document"
	case ShapeTextDocument:
		return "text_document"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// TextField returns the name of the conventional primary text field, or ""
// when the shape has none.
func (s BaseShape) TextField() string {
	if s == ShapeTextDocument {
		return "text"
	}
	return ""
}

// VectorField returns the name of the conventional embedding field, or ""
// when the shape has none.
func (s BaseShape) VectorField() string {
	if s == ShapeTextDocument {
		return "embedding"
	}
	return ""
}

// ParseBaseShape resolves a shape name against the recognized set.
func ParseBaseShape(name string) (BaseShape, error) {
	switch name {
	case "document":
		return ShapeDocument, nil
	case "text_document":
		return ShapeTextDocument, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownBaseShape, name)
	}
}

// Descriptor is the materialized, validated representation of a schema
// definition. Descriptors are cached by fingerprint and shared read-only
// across all records of the type; they are never mutated after creation.
type Descriptor struct {
	// Fingerprint identifies the (schema content, base shape) pair.
	Fingerprint string
	// Name is the schema title, when one was declared.
	Name   string
	Shape  BaseShape
	Fields []Field
}

// Field returns the declared field with the given name.
func (d *Descriptor) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// VectorFields returns the names of all vector fields in declaration order.
func (d *Descriptor) VectorFields() []string {
	var names []string
	for _, f := range d.Fields {
		if f.Kind == KindVector {
			names = append(names, f.Name)
		}
	}
	return names
}

// PrimaryVectorField returns the field an index built from this descriptor
// searches over: the shape's conventional embedding field when the schema
// declares it, otherwise the first declared vector field. Returns "" for a
// descriptor with no vector fields (storage-only).
func (d *Descriptor) PrimaryVectorField() string {
	if name := d.Shape.VectorField(); name != "" {
		if f, ok := d.Field(name); ok && f.Kind == KindVector {
			return name
		}
	}
	vs := d.VectorFields()
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Compatible reports whether records of the other descriptor are
// interchangeable with records of this one: same shape and the same field
// set with matching kinds and declared dimensions. Declaration order and
// schema title do not affect compatibility.
func (d *Descriptor) Compatible(other *Descriptor) bool {
	if other == nil || d.Shape != other.Shape || len(d.Fields) != len(other.Fields) {
		return false
	}
	for _, f := range d.Fields {
		of, ok := other.Field(f.Name)
		if !ok || of.Kind != f.Kind || of.Optional != f.Optional || of.Dim != f.Dim {
			return false
		}
	}
	return true
}

// Record is a concrete value conforming to exactly one Descriptor.
type Record struct {
	// ID uniquely identifies the record. Assigned at decode time when the
	// caller did not supply one.
	ID     string
	Desc   *Descriptor
	Values map[string]any
}

// Vector returns the record's value in the named vector field.
func (r Record) Vector(field string) ([]float32, bool) {
	v, ok := r.Values[field].([]float32)
	return v, ok
}

// SearchHit pairs a record with its distance to the search query.
// Smaller distance means more similar.
type SearchHit struct {
	Record   Record
	Distance float64
}
