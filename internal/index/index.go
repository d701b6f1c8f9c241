// Package index provides an in-memory, exact nearest-neighbor index over
// records of a single descriptor. Every search compares the query against
// every stored vector; there is no pruning or approximation.
package index

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"modeldb/internal/domain"
)

// Index owns an insertion-ordered sequence of records for exactly one
// descriptor. Inserts are serialized, searches proceed concurrently, and a
// search observes each insert fully or not at all.
type Index struct {
	mu   sync.RWMutex
	desc *domain.Descriptor
	// field is the designated vector field; "" for storage-only descriptors.
	field string
	// dim is fixed by the schema declaration or by the first insert.
	dim     int
	records []domain.Record
}

// New creates an empty index bound to the descriptor. The searched field is
// the descriptor's primary vector field.
func New(desc *domain.Descriptor) *Index {
	idx := &Index{desc: desc, field: desc.PrimaryVectorField()}
	if f, ok := desc.Field(idx.field); ok {
		idx.dim = f.Dim
	}
	return idx
}

// Descriptor returns the descriptor the index was built for.
func (x *Index) Descriptor() *domain.Descriptor { return x.desc }

// VectorField returns the designated vector field, or "" when the
// descriptor has none.
func (x *Index) VectorField() string { return x.field }

// Dimension returns the established vector dimension, or 0 before the first
// insert of an undeclared-length vector field.
func (x *Index) Dimension() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dim
}

// Len returns the number of stored records.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// Insert appends the record to the index. The record must conform to the
// index's descriptor and, when the index has a vector field, carry a vector
// of the established dimension there. Records are never deduplicated: a
// repeated identifier yields two entries. A failed insert leaves the index
// unchanged.
func (x *Index) Insert(rec domain.Record) error {
	if rec.Desc == nil {
		return fmt.Errorf("%w: record has no descriptor", domain.ErrTypeMismatch)
	}
	if rec.Desc != x.desc && rec.Desc.Fingerprint != x.desc.Fingerprint && !x.desc.Compatible(rec.Desc) {
		return fmt.Errorf("%w: record type %q does not conform to index type %q", domain.ErrTypeMismatch, rec.Desc.Name, x.desc.Name)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.field != "" {
		vec, ok := rec.Vector(x.field)
		if !ok || len(vec) == 0 {
			return fmt.Errorf("%w: %q", domain.ErrEmptyVectorField, x.field)
		}
		if x.dim == 0 {
			x.dim = len(vec)
		} else if len(vec) != x.dim {
			return fmt.Errorf("%w: index dimension is %d, got %d", domain.ErrDimensionMismatch, x.dim, len(vec))
		}
	}

	x.records = append(x.records, rec)
	return nil
}

// Search returns the limit stored records closest to the query's vector in
// the named field under Euclidean distance, ascending; ties keep insertion
// order. Records whose distance is not finite are excluded. An empty index
// yields an empty result, not an error.
func (x *Index) Search(query domain.Record, field string, limit int) ([]domain.SearchHit, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidLimit, limit)
	}
	f, ok := x.desc.Field(field)
	if !ok || f.Kind != domain.KindVector {
		return nil, fmt.Errorf("%w: %q is not a vector field of %q", domain.ErrFieldNotFound, field, x.desc.Name)
	}
	qv, ok := query.Vector(field)
	if !ok || len(qv) == 0 {
		return nil, fmt.Errorf("%w: query has no value in %q", domain.ErrEmptyVectorField, field)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if field == x.field && x.dim != 0 && len(qv) != x.dim {
		return nil, fmt.Errorf("%w: index dimension is %d, query has %d", domain.ErrDimensionMismatch, x.dim, len(qv))
	}

	hits := make([]domain.SearchHit, 0, len(x.records))
	for _, rec := range x.records {
		vec, ok := rec.Vector(field)
		if !ok || len(vec) != len(qv) {
			continue
		}
		d := euclidean(qv, vec)
		if math.IsNaN(d) || math.IsInf(d, 0) {
			continue
		}
		hits = append(hits, domain.SearchHit{Record: rec, Distance: d})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Get returns the earliest-inserted record with the given identifier.
func (x *Index) Get(id string) (domain.Record, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, rec := range x.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return domain.Record{}, false
}

// euclidean computes the L2 distance over raw components, accumulating in
// float64.
func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
