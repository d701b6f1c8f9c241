package schema

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"

	"modeldb/internal/domain"
)

// DecodeRecord converts a decoded wire mapping (field name to value, as
// produced by encoding/json) into a record conforming to the descriptor.
// Values are type-checked against the declared field kinds; undeclared or
// missing required fields are a type mismatch. A record identifier is taken
// from the "id" key when present, otherwise assigned randomly.
func DecodeRecord(desc *domain.Descriptor, values map[string]any) (domain.Record, error) {
	rec := domain.Record{
		Desc:   desc,
		Values: make(map[string]any, len(values)),
	}

	for name := range values {
		if name == "id" {
			continue
		}
		if _, ok := desc.Field(name); !ok {
			return domain.Record{}, fmt.Errorf("%w: field %q is not declared by %q", domain.ErrTypeMismatch, name, desc.Name)
		}
	}

	for _, f := range desc.Fields {
		v, ok := values[f.Name]
		if !ok || v == nil {
			if !f.Optional {
				return domain.Record{}, fmt.Errorf("%w: missing required field %q", domain.ErrTypeMismatch, f.Name)
			}
			continue
		}
		converted, err := convertValue(f, v)
		if err != nil {
			return domain.Record{}, err
		}
		rec.Values[f.Name] = converted
	}

	if id, ok := values["id"].(string); ok && id != "" {
		rec.ID = id
	} else {
		rec.ID = NewRecordID()
	}
	return rec, nil
}

// EncodeRecord converts a record back into the boundary mapping, with the
// identifier under the "id" key.
func EncodeRecord(rec domain.Record) map[string]any {
	out := make(map[string]any, len(rec.Values)+1)
	out["id"] = rec.ID
	for name, v := range rec.Values {
		out[name] = v
	}
	return out
}

// NewRecordID returns a random 128-bit hex identifier.
func NewRecordID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("record id generation: %v", err))
	}
	return hex.EncodeToString(b[:])
}

func convertValue(f domain.Field, v any) (any, error) {
	switch f.Kind {
	case domain.KindString:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(f, v)
		}
		return s, nil

	case domain.KindInt:
		switch n := v.(type) {
		case float64:
			if n != math.Trunc(n) {
				return nil, mismatch(f, v)
			}
			return int64(n), nil
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		default:
			return nil, mismatch(f, v)
		}

	case domain.KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		default:
			return nil, mismatch(f, v)
		}

	case domain.KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(f, v)
		}
		return b, nil

	case domain.KindBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			raw, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: invalid base64: %v", domain.ErrTypeMismatch, f.Name, err)
			}
			return raw, nil
		default:
			return nil, mismatch(f, v)
		}

	case domain.KindVector:
		vec, err := toVector(f, v)
		if err != nil {
			return nil, err
		}
		if f.Dim > 0 && len(vec) != f.Dim {
			return nil, fmt.Errorf("%w: field %q declared dimension %d, got %d", domain.ErrDimensionMismatch, f.Name, f.Dim, len(vec))
		}
		return vec, nil

	default:
		return nil, mismatch(f, v)
	}
}

func toVector(f domain.Field, v any) ([]float32, error) {
	switch src := v.(type) {
	case []float32:
		return src, nil
	case []float64:
		vec := make([]float32, len(src))
		for i, n := range src {
			vec[i] = float32(n)
		}
		return vec, nil
	case []any:
		vec := make([]float32, len(src))
		for i, item := range src {
			n, ok := item.(float64)
			if !ok {
				return nil, fmt.Errorf("%w: field %q: component %d is not a number", domain.ErrTypeMismatch, f.Name, i)
			}
			vec[i] = float32(n)
		}
		return vec, nil
	default:
		return nil, mismatch(f, v)
	}
}

func mismatch(f domain.Field, v any) error {
	return fmt.Errorf("%w: field %q expects %s, got %T", domain.ErrTypeMismatch, f.Name, f.Kind, v)
}
