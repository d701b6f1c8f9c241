package domain

import "errors"

// All failures in the core are deterministic consequences of input and are
// reported synchronously with one of these kinds. The boundary layer maps
// them to protocol responses; nothing is retried internally.
var (
	// ErrUnknownBaseShape is returned when a schema references a base shape
	// outside the recognized set.
	ErrUnknownBaseShape = errors.New("unknown base shape")

	// ErrInvalidSchema is returned when a schema definition is malformed or
	// declares an unsupported field type.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrSchemaConflict is returned when a model key is already bound to an
	// incompatible descriptor.
	ErrSchemaConflict = errors.New("schema conflict")

	// ErrTypeMismatch is returned when a record does not conform to the
	// descriptor it is checked against.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrDimensionMismatch is returned when a vector's length disagrees with
	// the established or declared dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrEmptyVectorField is returned when a record or query lacks a value
	// in a required vector field.
	ErrEmptyVectorField = errors.New("empty vector field")

	// ErrFieldNotFound is returned when a search names a field the
	// descriptor does not declare as a vector field.
	ErrFieldNotFound = errors.New("field not found")

	// ErrInvalidLimit is returned when a search limit is not positive.
	ErrInvalidLimit = errors.New("limit must be positive")

	// ErrNotFound is returned for lookups of names that do not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a name that is taken.
	ErrAlreadyExists = errors.New("already exists")
)
