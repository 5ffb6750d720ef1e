// Package lineage implements the layered attribute views that back rigor
// records: identity-bearing attribute layers, the mutable View that resolves
// keys through a chain of ancestor layers, and the read-only Record a View
// becomes once committed.
package lineage

import (
	"maps"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
)

// Layer is one node's attribute map. Layers are shared by reference between a
// node, its pending views and every record committed beneath it, so a Layer
// carries a stable ID that survives a save and reload.
type Layer struct {
	id   string
	data map[string]any
}

// revision counts writes to any layer in the process.
var revision atomic.Uint64

// Revision returns a counter that changes whenever any layer is written.
// Caches of flattened records compare it to detect stale contents.
func Revision() uint64 {
	return revision.Load()
}

// NewLayer creates a layer holding a copy of data and a fresh UUID v7.
func NewLayer(data map[string]any) *Layer {
	return RestoreLayer(newID(), data)
}

// RestoreLayer recreates a layer with a previously persisted ID.
func RestoreLayer(id string, data map[string]any) *Layer {
	l := &Layer{id: id, data: make(map[string]any, len(data))}
	maps.Copy(l.data, data)
	return l
}

// newID generates a UUID v7 for layer IDs.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to UUID v4 if v7 generation fails
		return uuid.New().String()
	}
	return id.String()
}

// ID returns the layer's stable identifier.
func (l *Layer) ID() string {
	if l == nil {
		return ""
	}
	return l.id
}

// Get returns the value stored under key and whether it is present.
func (l *Layer) Get(key string) (any, bool) {
	if l == nil {
		return nil, false
	}
	v, ok := l.data[key]
	return v, ok
}

// Set stores value under key.
func (l *Layer) Set(key string, value any) {
	l.data[key] = value
	revision.Add(1)
}

// Update merges fields into the layer, last write wins.
func (l *Layer) Update(fields map[string]any) {
	maps.Copy(l.data, fields)
	revision.Add(1)
}

// Delete removes key from the layer.
func (l *Layer) Delete(key string) {
	delete(l.data, key)
	revision.Add(1)
}

// Len returns the number of keys in the layer.
func (l *Layer) Len() int {
	if l == nil {
		return 0
	}
	return len(l.data)
}

// Keys returns the layer's keys in sorted order.
func (l *Layer) Keys() []string {
	if l == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(l.data))
}

// Data returns a shallow copy of the layer's attributes.
func (l *Layer) Data() map[string]any {
	out := make(map[string]any, l.Len())
	if l != nil {
		maps.Copy(out, l.data)
	}
	return out
}

// Same reports whether l and other denote the same layer. Identity is the
// pointer or, across a reload, the persisted ID; contents are never compared.
func (l *Layer) Same(other *Layer) bool {
	if l == nil || other == nil {
		return false
	}
	return l == other || l.id == other.id
}
