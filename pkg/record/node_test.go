package record

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/rigor/pkg/lineage"
)

// memSink is a minimal in-memory Sink.
type memSink struct {
	id      string
	records []*lineage.Record
	err     error
}

func (s *memSink) ID() string { return s.id }
func (s *memSink) AddRecord(rec *lineage.Record) { s.records = append(s.records, rec) }
func (s *memSink) Records() ([]*lineage.Record, error) { return s.records, s.err }

func TestDeriveChainContains(t *testing.T) {
	for depth := 1; depth <= 5; depth++ {
		t.Run(fmt.Sprintf("depth %d", depth), func(t *testing.T) {
			root := New(map[string]any{"k0": 0})
			leaf := root
			for i := 1; i < depth; i++ {
				leaf = leaf.Derive(map[string]any{fmt.Sprintf("k%d", i): i})
			}
			leaf.Stage(map[string]any{"own": true})

			for i := 0; i < depth; i++ {
				assert.True(t, leaf.Pending().Contains(fmt.Sprintf("k%d", i)))
			}
			assert.True(t, leaf.Pending().Contains("own"))
			assert.False(t, leaf.Pending().Contains(fmt.Sprintf("k%d", depth)))
		})
	}
}

func TestLeafShadowsAncestor(t *testing.T) {
	root := New(map[string]any{"phase": "root"})
	leaf := root.Derive(map[string]any{"phase": "leaf"})

	got, ok := leaf.Pending().Get("phase")
	require.True(t, ok)
	assert.Equal(t, "leaf", got)

	leaf.Stage(map[string]any{"phase": "staged"})
	got, _ = leaf.Pending().Get("phase")
	assert.Equal(t, "staged", got)
}

func TestCommitWithoutFieldsMatchesPending(t *testing.T) {
	root := New(map[string]any{"study": "s"})
	leaf := root.Derive(map[string]any{"model": "m1"})
	leaf.Stage(map[string]any{"loss": 0.5}).Stage(map[string]any{"index": 1, "loss": 0.25})

	before := leaf.Pending().Flatten()
	rec := leaf.Commit(nil)
	assert.Equal(t, before, rec.Flatten())
	assert.Equal(t, map[string]any{"study": "s", "model": "m1", "index": 1, "loss": 0.25}, rec.Flatten())

	assert.Empty(t, leaf.Pending().Own(), "commit starts a fresh pending record")
	assert.True(t, leaf.Pending().Contains("model"))
}

func TestCommittedRecordIgnoresHeldPendingView(t *testing.T) {
	n := New(map[string]any{"study": "s"})
	pending := n.Pending()
	pending.Set("x", 1)
	rec := n.Commit(nil)

	pending.Set("x", 99)
	pending.Set("y", 2)

	got, ok := rec.Get("x")
	require.True(t, ok)
	assert.Equal(t, 1, got)
	assert.False(t, rec.Contains("y"))
	assert.Equal(t, map[string]any{"x": 1}, rec.Own())
}

func TestLocalRecordsWithoutStore(t *testing.T) {
	n := New(map[string]any{"episode": 1})
	n.Push(map[string]any{"x": 1}).Push(map[string]any{"x": 2}).Push(map[string]any{"x": 3})

	recs, err := n.Records()
	require.NoError(t, err)
	require.Len(t, recs, 3)

	first, ok := n.RecordAt(0)
	require.True(t, ok)
	x, _ := first.Get("x")
	assert.Equal(t, 1, x)

	last, ok := n.RecordAt(-1)
	require.True(t, ok)
	x, _ = last.Get("x")
	assert.Equal(t, 3, x)

	_, ok = n.RecordAt(3)
	assert.False(t, ok)
	_, ok = n.RecordAt(-4)
	assert.False(t, ok)
}

func TestRecordOwnership(t *testing.T) {
	sink := &memSink{id: "s1"}
	root := New(map[string]any{})
	root.Attach(sink, NewRegistry())

	model1 := root.Derive(map[string]any{"model": "model1"})
	model2 := root.Derive(map[string]any{"model": "model2"})
	train1 := model1.Derive(map[string]any{"training": true})
	train2 := model2.Derive(map[string]any{"training": true})

	a := train1.Commit(map[string]any{"loss": 1.0})
	b := train2.Commit(map[string]any{"loss": 2.0})

	assert.Len(t, sink.records, 2)
	assert.Empty(t, train1.LocalRecords(), "records go to the store when one is bound")

	own1, err := train1.Records()
	require.NoError(t, err)
	assert.Equal(t, []*lineage.Record{a}, own1)

	m1, err := model1.Records()
	require.NoError(t, err)
	assert.Equal(t, []*lineage.Record{a}, m1)

	all, err := root.Records()
	require.NoError(t, err)
	assert.Equal(t, []*lineage.Record{a, b}, all)

	sib, err := train2.Records()
	require.NoError(t, err)
	assert.NotContains(t, sib, a, "structurally identical siblings keep separate streams")

	n, err := model2.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecordsPropagatesStoreError(t *testing.T) {
	sink := &memSink{id: "s1", err: fmt.Errorf("disk gone")}
	root := New(nil)
	root.Attach(sink, NewRegistry())

	_, err := root.Records()
	require.Error(t, err)
	assert.Contains(t, root.String(), "number_of_records: ?")
}

func TestBindKeepsStagedFields(t *testing.T) {
	parent := New(map[string]any{"run": 1})
	child := New(map[string]any{"phase": "eval"})
	child.Stage(map[string]any{"acc": 0.9})

	child.Bind(parent)
	assert.Equal(t, []*Node{child}, parent.Children())
	assert.Same(t, parent, child.Parent())
	assert.Equal(t, map[string]any{"run": 1, "phase": "eval", "acc": 0.9}, child.Pending().Flatten())
}

func TestReparentUpdatesLineageAtCommit(t *testing.T) {
	oldRoot := New(map[string]any{"experiment": 1})
	newRoot := New(map[string]any{"experiment": 2})
	mid := oldRoot.Derive(map[string]any{"model": "m"})
	leaf := mid.Derive(map[string]any{"phase": "train"})

	require.True(t, leaf.Reparent(oldRoot, newRoot))
	assert.Same(t, newRoot, mid.Parent())
	assert.Empty(t, oldRoot.Children())
	assert.Equal(t, []*Node{mid}, newRoot.Children())

	rec := leaf.Commit(nil)
	got, _ := rec.Get("experiment")
	assert.Equal(t, 2, got)
	assert.True(t, rec.HasAncestor(newRoot.Layer()))
	assert.False(t, rec.HasAncestor(oldRoot.Layer()))

	assert.False(t, leaf.Reparent(oldRoot, newRoot), "old parent is gone from the chain")
}

func TestReparentStopsOnCycle(t *testing.T) {
	a := New(map[string]any{"a": 1})
	b := New(map[string]any{"b": 1})
	a.parent = b
	b.parent = a

	assert.False(t, a.Reparent(New(nil), New(nil)))
	assert.Len(t, a.Lineage(), 2)
}

func TestFieldAccessors(t *testing.T) {
	parent := New(map[string]any{"experiment_number": 1})
	child := parent.Derive(map[string]any{"model": "m"})
	rec := child.Commit(map[string]any{"i": 0})

	v, ok := parent.GetField("experiment_number")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	parent.SetField("had_error", false)
	got, ok := rec.Get("had_error")
	require.True(t, ok, "records share their ancestors' layers")
	assert.Equal(t, false, got)

	_, ok = child.GetField("experiment_number")
	assert.False(t, ok, "GetField reads only the node's own attributes")
}

func TestHashIsStructural(t *testing.T) {
	a := New(map[string]any{"model": "m1", "lr": 0.1})
	b := New(map[string]any{"lr": 0.1, "model": "m1"})
	c := New(map[string]any{"model": "m2"})

	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.Len(t, a.Hash(), 64)
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	s := &memSink{id: "abc"}
	require.NoError(t, reg.Register(s))

	got, ok := reg.Lookup("abc")
	require.True(t, ok)
	assert.Same(t, s, got)

	reg.Unregister(&memSink{id: "abc"})
	_, ok = reg.Lookup("abc")
	assert.True(t, ok, "only the registered sink can unregister itself")

	reg.Unregister(s)
	_, ok = reg.Lookup("abc")
	assert.False(t, ok)

	assert.Error(t, reg.Register(&memSink{id: " "}))
	assert.Error(t, reg.Register(nil))
	var nilReg *Registry
	assert.Error(t, nilReg.Register(s))
	_, ok = nilReg.Lookup("abc")
	assert.False(t, ok)
}

func TestSnapshotRoundTripAndSplice(t *testing.T) {
	reg := NewRegistry()
	root := New(map[string]any{"experiment": 1})
	model := root.Derive(map[string]any{"model": "m1"})
	train := model.Derive(map[string]any{"phase": "train"})
	train.Push(map[string]any{"step": 1})
	train.Stage(map[string]any{"step": 2})

	data, err := json.Marshal(model)
	require.NoError(t, err)

	restored, err := Decode(data, reg)
	require.NoError(t, err)

	assert.Equal(t, model.Layer().ID(), restored.Layer().ID())
	require.NotNil(t, restored.Parent(), "ancestor chain comes back as stubs")
	assert.Equal(t, root.Layer().ID(), restored.Parent().Layer().ID())

	children := restored.Children()
	require.Len(t, children, 1)
	rTrain := children[0]
	assert.Equal(t, map[string]any{"experiment": int64(1), "model": "m1", "phase": "train", "step": int64(2)}, rTrain.Pending().Flatten())

	recs := rTrain.LocalRecords()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].HasAncestor(train.Layer()), "layer identity survives the snapshot")

	live := New(map[string]any{"experiment": 7})
	require.True(t, rTrain.Reparent(restored.Parent(), live))
	rec := rTrain.Commit(nil)
	got, _ := rec.Get("experiment")
	assert.Equal(t, 7, got)
}

func TestDecodedNodeReconnectsToStore(t *testing.T) {
	reg := NewRegistry()
	sink := &memSink{id: "store-1"}
	root := New(nil)
	root.Attach(sink, reg)
	child := root.Derive(map[string]any{"model": "m"})

	data, err := json.Marshal(child)
	require.NoError(t, err)

	restored, err := Decode(data, reg)
	require.NoError(t, err)
	assert.Equal(t, "store-1", restored.StoreID())

	restored.Commit(map[string]any{"i": 1})
	assert.Empty(t, sink.records, "no store registered yet: local fallback")
	assert.Len(t, restored.LocalRecords(), 1)

	require.NoError(t, reg.Register(sink))
	restored.Commit(map[string]any{"i": 2})
	require.Len(t, sink.records, 1)

	recs, err := restored.Records()
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestDecodeRejectsNonObjectAttributes(t *testing.T) {
	payload := `{"layers":[{"layer_id":"x","data":[1,2]}],"node":{"layer_id":"x"}}`
	_, err := Decode([]byte(payload), nil)
	require.ErrorIs(t, err, ErrInvalidSnapshot)

	_, err = Decode([]byte(`{"layers":[],"node":{"layer_id":"missing"}}`), nil)
	require.ErrorIs(t, err, ErrInvalidSnapshot)

	_, err = Decode([]byte(`not json`), nil)
	require.ErrorIs(t, err, ErrInvalidSnapshot)
}
