package lineage

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"
)

// View resolves keys through a local layer and an ordered chain of ancestor
// layers, nearest first. Only the local layer is ever written through a View;
// ancestor layers belong to nodes higher in the tree.
type View struct {
	own       map[string]any
	ancestors []*Layer
}

// New returns an empty View over the given ancestors, nearest first.
func New(ancestors ...*Layer) *View {
	return &View{
		own:       make(map[string]any),
		ancestors: slices.Clone(ancestors),
	}
}

// Get returns the value for key from the nearest layer that holds it. A key
// missing from every layer reports ok == false, which callers must not
// confuse with a present nil value.
func (v *View) Get(key string) (any, bool) {
	if val, ok := v.own[key]; ok {
		return val, true
	}
	for _, a := range v.ancestors {
		if val, ok := a.Get(key); ok {
			return val, true
		}
	}
	return nil, false
}

// Contains reports whether key is present anywhere in the chain.
func (v *View) Contains(key string) bool {
	_, ok := v.Get(key)
	return ok
}

// Set stores value in the local layer.
func (v *View) Set(key string, value any) {
	v.own[key] = value
}

// Update merges fields into the local layer, last write wins.
func (v *View) Update(fields map[string]any) {
	maps.Copy(v.own, fields)
}

// All yields every visible key/value pair once: local keys first, then each
// ancestor's keys not already seen.
func (v *View) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		seen := make(map[string]struct{}, len(v.own))
		for _, k := range slices.Sorted(maps.Keys(v.own)) {
			seen[k] = struct{}{}
			if !yield(k, v.own[k]) {
				return
			}
		}
		for _, a := range v.ancestors {
			for _, k := range a.Keys() {
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				val, _ := a.Get(k)
				if !yield(k, val) {
					return
				}
			}
		}
	}
}

// Keys yields every visible key once.
func (v *View) Keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		for k := range v.All() {
			if !yield(k) {
				return
			}
		}
	}
}

// Values yields the resolved value of every visible key once.
func (v *View) Values() iter.Seq[any] {
	return func(yield func(any) bool) {
		for _, val := range v.All() {
			if !yield(val) {
				return
			}
		}
	}
}

// Len returns the number of distinct visible keys.
func (v *View) Len() int {
	n := 0
	for range v.All() {
		n++
	}
	return n
}

// Flatten materializes the chain into a plain map: ancestors applied from the
// farthest to the nearest, then the local layer.
func (v *View) Flatten() map[string]any {
	out := make(map[string]any)
	for i := len(v.ancestors) - 1; i >= 0; i-- {
		maps.Copy(out, v.ancestors[i].data)
	}
	maps.Copy(out, v.own)
	return out
}

// Own returns a copy of the local layer.
func (v *View) Own() map[string]any {
	return maps.Clone(v.own)
}

// Ancestors returns the ancestor chain, nearest first.
func (v *View) Ancestors() []*Layer {
	return slices.Clone(v.ancestors)
}

// SetAncestors replaces the ancestor chain.
func (v *View) SetAncestors(ancestors []*Layer) {
	v.ancestors = slices.Clone(ancestors)
}

// HasAncestor reports whether layer is one of the ancestors by identity.
func (v *View) HasAncestor(layer *Layer) bool {
	return slices.ContainsFunc(v.ancestors, layer.Same)
}

// Clone returns a View with a copy of the local layer and the same ancestors.
func (v *View) Clone() *View {
	return &View{own: maps.Clone(v.own), ancestors: slices.Clone(v.ancestors)}
}

// Seal returns an immutable Record of the view's current state. Later writes
// through v do not reach the record.
func (v *View) Seal() *Record {
	return &Record{view: v.Clone()}
}

// MarshalJSON encodes the flattened view.
func (v *View) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Flatten())
}

func (v *View) String() string {
	return render(v.Flatten())
}

// render formats a flattened map as indented JSON, falling back to fmt when a
// value cannot be encoded.
func render(flat map[string]any) string {
	b, err := json.MarshalIndent(flat, "", "    ")
	if err != nil {
		return fmt.Sprintf("%v", flat)
	}
	return string(b)
}
