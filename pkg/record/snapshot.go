package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/mesh-intelligence/rigor/pkg/lineage"
)

// ErrInvalidSnapshot is returned by Decode for payloads that do not describe a
// node tree, including attributes that are not a JSON object.
var ErrInvalidSnapshot = errors.New("invalid node snapshot")

// Snapshot JSON structures. Layers are written once and referenced by ID so
// shared ancestors keep their identity when decoded.
type snapshotJSON struct {
	StoreID   string      `json:"store_id,omitempty"`
	Layers    []layerJSON `json:"layers"`
	Ancestors []string    `json:"ancestors,omitempty"` // parent chain, nearest first
	Node      nodeJSON    `json:"node"`
}

type layerJSON struct {
	LayerID string          `json:"layer_id"`
	Data    json.RawMessage `json:"data"`
}

type nodeJSON struct {
	LayerID  string          `json:"layer_id"`
	Pending  json.RawMessage `json:"pending,omitempty"`
	Records  []recordJSON    `json:"records,omitempty"`
	Children []nodeJSON      `json:"children,omitempty"`
}

type recordJSON struct {
	Own     json.RawMessage `json:"own"`
	Lineage []string        `json:"lineage"`
}

// MarshalJSON encodes n's subtree together with its ancestor chain as detached
// layers. The store is referenced by ID only.
func (n *Node) MarshalJSON() ([]byte, error) {
	enc := snapshotEncoder{seen: make(map[string]bool)}

	snap := snapshotJSON{StoreID: n.storeID}
	for cur := range n.ancestry() {
		if cur == n {
			continue
		}
		if err := enc.addLayer(cur.layer); err != nil {
			return nil, err
		}
		snap.Ancestors = append(snap.Ancestors, cur.layer.ID())
	}

	node, err := enc.encodeNode(n)
	if err != nil {
		return nil, err
	}
	snap.Node = node
	snap.Layers = enc.layers
	return json.Marshal(snap)
}

type snapshotEncoder struct {
	layers []layerJSON
	seen   map[string]bool
}

func (e *snapshotEncoder) addLayer(l *lineage.Layer) error {
	if e.seen[l.ID()] {
		return nil
	}
	data, err := json.Marshal(l.Data())
	if err != nil {
		return fmt.Errorf("encoding layer %s: %w", l.ID(), err)
	}
	e.seen[l.ID()] = true
	e.layers = append(e.layers, layerJSON{LayerID: l.ID(), Data: data})
	return nil
}

func (e *snapshotEncoder) encodeNode(n *Node) (nodeJSON, error) {
	if err := e.addLayer(n.layer); err != nil {
		return nodeJSON{}, err
	}
	pending, err := json.Marshal(n.pending.Own())
	if err != nil {
		return nodeJSON{}, fmt.Errorf("encoding pending record: %w", err)
	}
	out := nodeJSON{LayerID: n.layer.ID(), Pending: pending}

	for _, rec := range n.local {
		own, err := json.Marshal(rec.Own())
		if err != nil {
			return nodeJSON{}, fmt.Errorf("encoding local record: %w", err)
		}
		rj := recordJSON{Own: own}
		for _, l := range rec.Ancestors() {
			if err := e.addLayer(l); err != nil {
				return nodeJSON{}, err
			}
			rj.Lineage = append(rj.Lineage, l.ID())
		}
		out.Records = append(out.Records, rj)
	}

	for _, child := range n.children {
		cj, err := e.encodeNode(child)
		if err != nil {
			return nodeJSON{}, err
		}
		out.Children = append(out.Children, cj)
	}
	return out, nil
}

// Decode rebuilds a node tree from MarshalJSON output. The ancestor chain comes
// back as detached stub nodes that a caller can splice onto a live tree with
// Reparent. The store is resolved lazily through reg (DefaultRegistry when
// nil); until a store with the recorded ID registers, the nodes keep records
// locally.
func Decode(data []byte, reg *Registry) (*Node, error) {
	var snap snapshotJSON
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	layers := make(map[string]*lineage.Layer, len(snap.Layers))
	for _, lj := range snap.Layers {
		fields, err := lineage.DecodeFields(lj.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %s: %v", ErrInvalidSnapshot, lj.LayerID, err)
		}
		layers[lj.LayerID] = lineage.RestoreLayer(lj.LayerID, fields)
	}
	d := snapshotDecoder{layers: layers, storeID: snap.StoreID, registry: reg}

	var parent *Node
	for _, id := range slices.Backward(snap.Ancestors) {
		layer, err := d.layer(id)
		if err != nil {
			return nil, err
		}
		stub := d.newNode(layer)
		if parent != nil {
			stub.parent = parent
			parent.children = append(parent.children, stub)
		}
		parent = stub
	}

	root, err := d.decodeNode(snap.Node, parent)
	if err != nil {
		return nil, err
	}
	for node := range root.subtree() {
		node.pending.SetAncestors(node.Lineage())
	}
	for stub := range parent.ancestry() {
		stub.pending.SetAncestors(stub.Lineage())
	}
	return root, nil
}

type snapshotDecoder struct {
	layers   map[string]*lineage.Layer
	storeID  string
	registry *Registry
}

func (d *snapshotDecoder) layer(id string) (*lineage.Layer, error) {
	l, ok := d.layers[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown layer %s", ErrInvalidSnapshot, id)
	}
	return l, nil
}

func (d *snapshotDecoder) newNode(layer *lineage.Layer) *Node {
	return &Node{
		layer:    layer,
		pending:  lineage.New(),
		storeID:  d.storeID,
		registry: d.registry,
	}
}

func (d *snapshotDecoder) decodeNode(nj nodeJSON, parent *Node) (*Node, error) {
	layer, err := d.layer(nj.LayerID)
	if err != nil {
		return nil, err
	}
	n := d.newNode(layer)
	if parent != nil {
		n.parent = parent
		parent.children = append(parent.children, n)
	}

	pending, err := lineage.DecodeFields(nj.Pending)
	if err != nil {
		return nil, fmt.Errorf("%w: pending record: %v", ErrInvalidSnapshot, err)
	}
	n.pending.Update(pending)

	for _, rj := range nj.Records {
		own, err := lineage.DecodeFields(rj.Own)
		if err != nil {
			return nil, fmt.Errorf("%w: local record: %v", ErrInvalidSnapshot, err)
		}
		ancestors := make([]*lineage.Layer, 0, len(rj.Lineage))
		for _, id := range rj.Lineage {
			l, err := d.layer(id)
			if err != nil {
				return nil, err
			}
			ancestors = append(ancestors, l)
		}
		n.local = append(n.local, lineage.NewRecord(own, ancestors))
	}

	for _, cj := range nj.Children {
		if _, err := d.decodeNode(cj, n); err != nil {
			return nil, err
		}
	}
	return n, nil
}
