package lineage

import (
	"iter"
)

// Record is a committed View. Its local fields and ancestor chain were fixed
// at commit time; the ancestor layers themselves stay shared with the nodes
// that own them.
type Record struct {
	view *View
}

// NewRecord builds a committed record directly, as the loader does when
// reading a record log back from disk.
func NewRecord(own map[string]any, ancestors []*Layer) *Record {
	v := New(ancestors...)
	v.Update(own)
	return v.Seal()
}

// Get returns the resolved value for key and whether it is present.
func (r *Record) Get(key string) (any, bool) { return r.view.Get(key) }

// Contains reports whether key is present anywhere in the record's chain.
func (r *Record) Contains(key string) bool { return r.view.Contains(key) }

// All yields every visible key/value pair once.
func (r *Record) All() iter.Seq2[string, any] { return r.view.All() }

// Keys yields every visible key once.
func (r *Record) Keys() iter.Seq[string] { return r.view.Keys() }

// Values yields every visible value once.
func (r *Record) Values() iter.Seq[any] { return r.view.Values() }

// Len returns the number of distinct visible keys.
func (r *Record) Len() int { return r.view.Len() }

// Flatten materializes the record into a plain map.
func (r *Record) Flatten() map[string]any { return r.view.Flatten() }

// Own returns a copy of the fields committed on the record itself.
func (r *Record) Own() map[string]any { return r.view.Own() }

// Ancestors returns the lineage captured at commit, nearest first.
func (r *Record) Ancestors() []*Layer { return r.view.Ancestors() }

// HasAncestor reports whether layer was part of the record's lineage.
func (r *Record) HasAncestor(layer *Layer) bool { return r.view.HasAncestor(layer) }

// Trace reports how each layer contributes to key.
func (r *Record) Trace(key string) []Provenance { return r.view.Trace(key) }

// MarshalJSON encodes the flattened record.
func (r *Record) MarshalJSON() ([]byte, error) { return r.view.MarshalJSON() }

func (r *Record) String() string { return r.view.String() }
