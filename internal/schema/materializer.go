// Package schema compiles schema definitions into shared type descriptors
// and decodes boundary values into records conforming to them.
package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"modeldb/internal/domain"
)

// Materializer turns schema definitions into descriptors. Successful results
// are cached by a content fingerprint of (schema text, base shape), so
// equivalent submissions share the identical *Descriptor instance and their
// records are index-compatible. Failures are never cached.
type Materializer struct {
	mu    sync.RWMutex
	cache map[string]*domain.Descriptor
}

func NewMaterializer() *Materializer {
	return &Materializer{cache: make(map[string]*domain.Descriptor)}
}

// Materialize validates the base shape and schema and returns the descriptor
// for the pair. A cache hit returns the previously materialized instance.
func (m *Materializer) Materialize(schemaText, shapeName string) (*domain.Descriptor, error) {
	shape, err := domain.ParseBaseShape(shapeName)
	if err != nil {
		return nil, err
	}

	fp := fingerprint(schemaText, shapeName)

	m.mu.RLock()
	cached, ok := m.cache[fp]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	desc, err := parseSchema(schemaText, shape)
	if err != nil {
		return nil, err
	}
	desc.Fingerprint = fp

	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.cache[fp]; ok {
		// Lost a materialization race; the first instance wins.
		return cached, nil
	}
	m.cache[fp] = desc
	return desc, nil
}

// CacheSize returns the number of cached descriptors.
func (m *Materializer) CacheSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

func fingerprint(schemaText, shapeName string) string {
	h := sha256.New()
	h.Write([]byte(schemaText))
	h.Write([]byte{0})
	h.Write([]byte(shapeName))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// rawSchema is the accepted subset of a JSON Schema object description.
type rawSchema struct {
	Title      string          `json:"title"`
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
	Required   []string        `json:"required"`
}

type rawProperty struct {
	Type     string       `json:"type"`
	Format   string       `json:"format"`
	Items    *rawProperty `json:"items"`
	MinItems int          `json:"minItems"`
	MaxItems int          `json:"maxItems"`
}

func parseSchema(schemaText string, shape domain.BaseShape) (*domain.Descriptor, error) {
	var raw rawSchema
	if err := json.Unmarshal([]byte(schemaText), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSchema, err)
	}
	if raw.Type != "object" {
		return nil, fmt.Errorf("%w: root type must be \"object\", got %q", domain.ErrInvalidSchema, raw.Type)
	}

	required := make(map[string]bool, len(raw.Required))
	for _, name := range raw.Required {
		required[name] = true
	}

	desc := &domain.Descriptor{
		Name:  raw.Title,
		Shape: shape,
	}

	if len(raw.Properties) > 0 {
		names, props, err := orderedProperties(raw.Properties)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			field, err := toField(name, props[name], !required[name])
			if err != nil {
				return nil, err
			}
			desc.Fields = append(desc.Fields, field)
		}
	}

	if err := checkShapeContract(desc); err != nil {
		return nil, err
	}
	return desc, nil
}

// orderedProperties walks the properties object token by token so that the
// descriptor keeps the schema's declaration order, which encoding/json does
// not preserve through a map.
func orderedProperties(raw json.RawMessage) ([]string, map[string]rawProperty, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidSchema, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("%w: properties must be an object", domain.ErrInvalidSchema)
	}

	var names []string
	props := make(map[string]rawProperty)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidSchema, err)
		}
		name := keyTok.(string)

		var prop rawProperty
		if err := dec.Decode(&prop); err != nil {
			return nil, nil, fmt.Errorf("%w: property %q: %v", domain.ErrInvalidSchema, name, err)
		}
		names = append(names, name)
		props[name] = prop
	}
	return names, props, nil
}

func toField(name string, prop rawProperty, optional bool) (domain.Field, error) {
	field := domain.Field{Name: name, Optional: optional}

	switch prop.Type {
	case "string":
		if prop.Format == "binary" || prop.Format == "byte" {
			field.Kind = domain.KindBytes
		} else {
			field.Kind = domain.KindString
		}
	case "integer":
		field.Kind = domain.KindInt
	case "number":
		field.Kind = domain.KindFloat
	case "boolean":
		field.Kind = domain.KindBool
	case "array":
		if prop.Items == nil || prop.Items.Type != "number" {
			return domain.Field{}, fmt.Errorf("%w: field %q: only numeric arrays are supported", domain.ErrInvalidSchema, name)
		}
		field.Kind = domain.KindVector
		if prop.MinItems > 0 && prop.MinItems == prop.MaxItems {
			field.Dim = prop.MinItems
		}
	default:
		return domain.Field{}, fmt.Errorf("%w: field %q: unsupported type %q", domain.ErrInvalidSchema, name, prop.Type)
	}
	return field, nil
}

// checkShapeContract verifies the schema honors the conventions its base
// shape fixes: the primary text field must be a string, and the conventional
// embedding field a vector, when declared. A text_document must declare its
// text field.
func checkShapeContract(desc *domain.Descriptor) error {
	if name := desc.Shape.TextField(); name != "" {
		f, ok := desc.Field(name)
		if !ok {
			return fmt.Errorf("%w: shape %q requires a %q field", domain.ErrInvalidSchema, desc.Shape, name)
		}
		if f.Kind != domain.KindString {
			return fmt.Errorf("%w: shape %q requires field %q to be a string, got %s", domain.ErrInvalidSchema, desc.Shape, name, f.Kind)
		}
	}
	if name := desc.Shape.VectorField(); name != "" {
		if f, ok := desc.Field(name); ok && f.Kind != domain.KindVector {
			return fmt.Errorf("%w: shape %q requires field %q to be a numeric array, got %s", domain.ErrInvalidSchema, desc.Shape, name, f.Kind)
		}
	}
	return nil
}
