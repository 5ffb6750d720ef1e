// Package record implements the record tree: nodes that carry identifying
// attributes, inherit every ancestor's attributes, accumulate a pending
// record and commit it either to a store or to a node-local list.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/mesh-intelligence/rigor/pkg/lineage"
)

// Node is one context in a record tree, e.g. "model1" or "training".
type Node struct {
	layer    *lineage.Layer
	parent   *Node
	children []*Node
	pending  *lineage.View
	local    []*lineage.Record

	storeID  string
	sink     Sink
	registry *Registry
}

// New creates a detached node whose attributes are a copy of attrs.
func New(attrs map[string]any) *Node {
	return WithLayer(lineage.NewLayer(attrs))
}

// WithLayer creates a detached node around an existing layer. Stores use it to
// rebuild their collection node with a persisted layer ID.
func WithLayer(layer *lineage.Layer) *Node {
	n := &Node{layer: layer}
	n.pending = lineage.New(n.Lineage()...)
	return n
}

// Derive creates a child of n carrying attrs.
func (n *Node) Derive(attrs map[string]any) *Node {
	return New(attrs).Bind(n)
}

// Bind attaches n beneath parent: n is registered as a child, its pending
// record is rebuilt over the new lineage (keeping staged fields) and it
// inherits the parent's store binding.
func (n *Node) Bind(parent *Node) *Node {
	n.parent = parent
	parent.children = append(parent.children, n)

	staged := n.pending.Own()
	n.pending = lineage.New(n.Lineage()...)
	n.pending.Update(staged)

	n.storeID = parent.storeID
	n.sink = parent.sink
	n.registry = parent.registry
	return n
}

// Attach binds n and its whole subtree to s. Nodes bound later through Bind
// or Derive inherit the binding.
func (n *Node) Attach(s Sink, reg *Registry) {
	for node := range n.subtree() {
		node.sink = s
		node.storeID = s.ID()
		node.registry = reg
	}
}

// subtree yields n and every descendant, depth first.
func (n *Node) subtree() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		stack := []*Node{n}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(cur) {
				return
			}
			for i := len(cur.children) - 1; i >= 0; i-- {
				stack = append(stack, cur.children[i])
			}
		}
	}
}

// ancestry yields n, its parent, and so on up to the root. A parent cycle
// ends the walk.
func (n *Node) ancestry() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		seen := make(map[*Node]struct{})
		for cur := n; cur != nil; cur = cur.parent {
			if _, loop := seen[cur]; loop {
				return
			}
			seen[cur] = struct{}{}
			if !yield(cur) {
				return
			}
		}
	}
}

// Lineage returns the attribute layers from n up to the root, computed from
// the live parent pointers.
func (n *Node) Lineage() []*lineage.Layer {
	var out []*lineage.Layer
	for cur := range n.ancestry() {
		out = append(out, cur.layer)
	}
	return out
}

// Stage merges fields into the pending record without committing it.
func (n *Node) Stage(fields map[string]any) *Node {
	n.pending.Update(fields)
	return n
}

// Commit merges fields (which may be nil) into the pending record and commits
// it. The lineage is refreshed first so a re-parented subtree records its
// current position. The committed record goes to the bound store, or to the
// node's local list when there is none, and a fresh pending record is started.
func (n *Node) Commit(fields map[string]any) *lineage.Record {
	if fields != nil {
		n.pending.Update(fields)
	}
	lin := n.Lineage()
	n.pending.SetAncestors(lin)

	rec := n.pending.Seal()
	if s := n.resolveSink(); s != nil {
		s.AddRecord(rec)
	} else {
		n.local = append(n.local, rec)
	}

	n.pending = lineage.New(lin...)
	return rec
}

// Push commits fields as one record and returns n for chaining.
func (n *Node) Push(fields map[string]any) *Node {
	n.Commit(fields)
	return n
}

// resolveSink returns the live sink, looking the store ID up in the registry
// when the node was rebuilt from a snapshot.
func (n *Node) resolveSink() Sink {
	if n.sink != nil {
		return n.sink
	}
	if n.storeID == "" {
		return nil
	}
	reg := n.registry
	if reg == nil {
		reg = DefaultRegistry
	}
	if s, ok := reg.Lookup(n.storeID); ok {
		n.sink = s
		return s
	}
	return nil
}

// RecordSeq returns the records that belong to n: with a store, every store
// record whose lineage contains n's layer, filtered lazily; without one, the
// node's local list.
func (n *Node) RecordSeq() (iter.Seq[*lineage.Record], error) {
	s := n.resolveSink()
	if s == nil {
		return slices.Values(slices.Clone(n.local)), nil
	}
	all, err := s.Records()
	if err != nil {
		return nil, fmt.Errorf("loading store records: %w", err)
	}
	return func(yield func(*lineage.Record) bool) {
		for _, rec := range all {
			if !rec.HasAncestor(n.layer) {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}, nil
}

// Records collects RecordSeq.
func (n *Node) Records() ([]*lineage.Record, error) {
	seq, err := n.RecordSeq()
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// Len returns the number of records that belong to n.
func (n *Node) Len() (int, error) {
	seq, err := n.RecordSeq()
	if err != nil {
		return 0, err
	}
	count := 0
	for range seq {
		count++
	}
	return count, nil
}

// Reparent walks up from n and replaces the first parent link pointing at
// oldParent with newParent. It reports whether oldParent was found.
func (n *Node) Reparent(oldParent, newParent *Node) bool {
	for cur := range n.ancestry() {
		if cur.parent == nil || cur.parent != oldParent {
			continue
		}
		oldParent.children = slices.DeleteFunc(oldParent.children, func(c *Node) bool { return c == cur })
		cur.parent = newParent
		if newParent != nil && !slices.Contains(newParent.children, cur) {
			newParent.children = append(newParent.children, cur)
		}
		return true
	}
	return false
}

// GetField returns one of n's own attributes.
func (n *Node) GetField(key string) (any, bool) {
	return n.layer.Get(key)
}

// SetField sets one of n's own attributes. Records committed beneath n see the
// change because they share the layer.
func (n *Node) SetField(key string, value any) {
	n.layer.Set(key, value)
}

// RecordAt returns the i-th record of the local list; negative indices count
// from the end.
func (n *Node) RecordAt(i int) (*lineage.Record, bool) {
	if i < 0 {
		i += len(n.local)
	}
	if i < 0 || i >= len(n.local) {
		return nil, false
	}
	return n.local[i], true
}

// LocalRecords returns a copy of the local record list.
func (n *Node) LocalRecords() []*lineage.Record {
	return slices.Clone(n.local)
}

func (n *Node) Layer() *lineage.Layer { return n.layer }
func (n *Node) Parent() *Node { return n.parent }
func (n *Node) Children() []*Node { return slices.Clone(n.children) }
func (n *Node) Pending() *lineage.View { return n.pending }
func (n *Node) StoreID() string { return n.storeID }
func (n *Node) Attrs() map[string]any { return n.layer.Data() }

// Hash returns a deterministic hash of n's attributes. It identifies a node's
// attribute snapshot for deduplication; it is not an identity.
func (n *Node) Hash() string {
	payload, err := json.Marshal(map[string]any{"record.Node": n.layer.Data()})
	if err != nil {
		payload = fmt.Appendf(nil, "record.Node:%v", n.layer.Data())
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// String renders a short summary. Rendering never fails: values that cannot
// be encoded fall back to fmt formatting and an unreachable store is reported
// as an unknown record count.
func (n *Node) String() string {
	count := "?"
	if c, err := n.Len(); err == nil {
		count = fmt.Sprint(c)
	}
	var parentData map[string]any
	if n.parent != nil {
		parentData = n.parent.pending.Flatten()
	}

	var b strings.Builder
	b.WriteString("{\n")
	fmt.Fprintf(&b, "    number_of_records: %s,\n", count)
	b.WriteString("    records: [ ... ],\n")
	fmt.Fprintf(&b, "    local_data: %s,\n", indent(renderValue(n.layer.Data())))
	fmt.Fprintf(&b, "    parent_data: %s\n", indent(renderValue(parentData)))
	b.WriteString("}")
	return b.String()
}

func renderValue(v any) string {
	out, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}

func indent(s string) string {
	return strings.ReplaceAll(s, "\n", "\n    ")
}
