// Package registry maps fully-qualified model keys to their live descriptor
// and vector index pair. Entries are created lazily on first resolution and
// live until explicitly deleted; resolution never resets an index.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"modeldb/internal/domain"
	"modeldb/internal/index"
	"modeldb/internal/schema"
)

// Key fully qualifies a model within the naming hierarchy.
type Key struct {
	Namespace  string
	Workspace  string
	Repository string
	Model      string
}

func (k Key) String() string {
	return k.Namespace + "/" + k.Workspace + "/" + k.Repository + "/" + k.Model
}

// TreePrefix joins hierarchy components into a prefix that matches every key
// underneath them.
func TreePrefix(parts ...string) string {
	return strings.Join(parts, "/") + "/"
}

// Entry is the pair stored under a model key.
type Entry struct {
	Desc  *domain.Descriptor
	Index *index.Index
}

// Registry is the keyed store of live entries. Concurrent first resolutions
// of the same key are collapsed to a single materialization; the losers
// receive the winner's entry.
type Registry struct {
	mu      sync.RWMutex
	mat     *schema.Materializer
	entries map[string]*Entry
	group   singleflight.Group
}

func New(mat *schema.Materializer) *Registry {
	return &Registry{
		mat:     mat,
		entries: make(map[string]*Entry),
	}
}

// Materializer returns the materializer the registry resolves schemas with.
func (r *Registry) Materializer() *schema.Materializer { return r.mat }

// Resolve returns the entry for the key. On first resolution the schema and
// shape are required and a fresh empty index is created. On later ones the
// existing pair is returned unchanged; a supplied schema is checked against
// the stored descriptor and an incompatible one is a schema conflict.
func (r *Registry) Resolve(key Key, schemaText, shapeName string) (*Entry, error) {
	ks := key.String()

	r.mu.RLock()
	entry, ok := r.entries[ks]
	r.mu.RUnlock()
	if ok {
		return r.checkConflict(entry, schemaText, shapeName)
	}

	if schemaText == "" {
		return nil, fmt.Errorf("%w: model %q", domain.ErrNotFound, ks)
	}

	v, err, _ := r.group.Do(ks, func() (any, error) {
		r.mu.RLock()
		entry, ok := r.entries[ks]
		r.mu.RUnlock()
		if ok {
			return entry, nil
		}

		desc, err := r.mat.Materialize(schemaText, shapeName)
		if err != nil {
			return nil, err
		}
		entry = &Entry{Desc: desc, Index: index.New(desc)}

		r.mu.Lock()
		r.entries[ks] = entry
		r.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, err
	}

	// A race loser may have supplied a schema that conflicts with the
	// winner's.
	return r.checkConflict(v.(*Entry), schemaText, shapeName)
}

func (r *Registry) checkConflict(entry *Entry, schemaText, shapeName string) (*Entry, error) {
	if schemaText == "" {
		return entry, nil
	}
	desc, err := r.mat.Materialize(schemaText, shapeName)
	if err != nil {
		return nil, err
	}
	if desc == entry.Desc || entry.Desc.Compatible(desc) {
		return entry, nil
	}
	return nil, fmt.Errorf("%w: model already bound to an incompatible descriptor", domain.ErrSchemaConflict)
}

// Lookup returns the entry for the key without creating one.
func (r *Registry) Lookup(key Key) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[key.String()]
	return entry, ok
}

// Delete removes the key, discarding its descriptor association and index
// contents irrecoverably. Reports whether an entry was removed.
func (r *Registry) Delete(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ks := key.String()
	_, ok := r.entries[ks]
	delete(r.entries, ks)
	return ok
}

// DeletePrefix removes every entry under the hierarchy prefix (as built by
// TreePrefix) and returns how many were removed.
func (r *Registry) DeletePrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for ks := range r.entries {
		if strings.HasPrefix(ks, prefix) {
			delete(r.entries, ks)
			n++
		}
	}
	return n
}

// RenamePrefix rewrites keys under old to live under new, preserving entry
// identity so renames in the naming hierarchy keep live index contents.
func (r *Registry) RenamePrefix(oldPrefix, newPrefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for ks, entry := range r.entries {
		if strings.HasPrefix(ks, oldPrefix) {
			delete(r.entries, ks)
			r.entries[newPrefix+strings.TrimPrefix(ks, oldPrefix)] = entry
			n++
		}
	}
	return n
}

// Keys returns all registered model keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for ks := range r.entries {
		keys = append(keys, ks)
	}
	sort.Strings(keys)
	return keys
}
