package store

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/rigor/pkg/lineage"
	"github.com/mesh-intelligence/rigor/pkg/record"
	"github.com/mesh-intelligence/rigor/pkg/types"
)

func positions(t *testing.T, all, got []*lineage.Record) []int {
	t.Helper()
	out := []int{}
	for _, rec := range got {
		i := -1
		for j, cand := range all {
			if cand == rec {
				i = j
				break
			}
		}
		require.NotEqual(t, -1, i, "fetched record is not in the store")
		out = append(out, i)
	}
	return out
}

func TestFetch(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	s.Collection().
		Push(map[string]any{"model": "m1", "loss": 0.5, "epoch": 1, "done": true}).
		Push(map[string]any{"model": "m2", "loss": 0.25, "epoch": 2, "done": false, "note": nil}).
		Push(map[string]any{"model": "m1", "loss": 0.125, "epoch": 3})
	all, err := s.Records()
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter map[string]any
		want   []int
	}{
		{"empty filter returns everything", nil, []int{0, 1, 2}},
		{"string equality", map[string]any{"model": "m1"}, []int{0, 2}},
		{"membership", map[string]any{"model": []string{"m2", "m3"}}, []int{1}},
		{"mixed membership", map[string]any{"epoch": []any{1, "3", 3.0}}, []int{0, 2}},
		{"empty membership matches nothing", map[string]any{"model": []any{}}, []int{}},
		{"integer equality", map[string]any{"epoch": 2}, []int{1}},
		{"float matches integral value", map[string]any{"epoch": 2.0}, []int{1}},
		{"unsigned", map[string]any{"epoch": uint8(3)}, []int{2}},
		{"float equality", map[string]any{"loss": 0.25}, []int{1}},
		{"string does not match number", map[string]any{"epoch": "1"}, []int{}},
		{"true", map[string]any{"done": true}, []int{0}},
		{"false", map[string]any{"done": false}, []int{1}},
		{"explicit null", map[string]any{"note": nil}, []int{1}},
		{"conjunction", map[string]any{"model": "m1", "epoch": 3}, []int{2}},
		{"absent key", map[string]any{"missing": "x"}, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Fetch(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, positions(t, all, got))
		})
	}
}

func TestFetchInvalidFilter(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	s.Collection().Push(map[string]any{"model": "m1"})

	tests := []struct {
		name   string
		filter map[string]any
	}{
		{"quote in key", map[string]any{`bad"key`: 1}},
		{"empty key", map[string]any{"": 1}},
		{"map value", map[string]any{"model": map[string]any{"a": 1}}},
		{"nested slice", map[string]any{"model": [][]string{{"m1"}}}},
		{"bytes", map[string]any{"model": []byte("m1")}},
		{"NaN", map[string]any{"loss": math.NaN()}},
		{"struct", map[string]any{"model": struct{}{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Fetch(tt.filter)
			assert.ErrorIs(t, err, types.ErrInvalidFilter)
		})
	}
}

func TestFetchSeesNewRecords(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	s.Collection().Push(map[string]any{"model": "m1"})

	got, err := s.Fetch(map[string]any{"model": "m1"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	s.Collection().Push(map[string]any{"model": "m1"})
	got, err = s.Fetch(map[string]any{"model": "m1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, s.Save(context.Background()))
	require.NoError(t, s.Reload())
	got, err = s.Fetch(map[string]any{"model": "m1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFetchSeesLayerChanges(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	model := s.Collection().Derive(map[string]any{"model": "a"})
	model.Push(map[string]any{"i": 0})

	got, err := s.Fetch(map[string]any{"model": "a"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	model.SetField("model", "b")
	assert.Equal(t, "b", got[0].Flatten()["model"])

	got, err = s.Fetch(map[string]any{"model": "b"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	got, err = s.Fetch(map[string]any{"model": "a"})
	require.NoError(t, err)
	assert.Empty(t, got)

	s.Collection().SetField(types.FieldExperimentNumber, 5)
	nums, err := s.ExperimentNumbers()
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, nums)
}

func TestExperiments(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	ctx := context.Background()

	for _, fail := range []bool{false, false, true, false} {
		err := s.Do(ctx, nil, func(root *record.Node) error {
			root.Push(map[string]any{"step": 1})
			if fail {
				return errors.New("fail")
			}
			return nil
		})
		assert.Equal(t, fail, err != nil)
	}
	s.Collection().Push(map[string]any{"outside": true})

	nums, err := s.ExperimentNumbers()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, nums, "a failed run's number is reused by its retry")

	latest, err := s.Experiment(-1)
	require.NoError(t, err)
	assert.Len(t, latest, 2)

	first, err := s.Experiment(1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	en, _ := first[0].Get(types.FieldExperimentNumber)
	assert.Equal(t, int64(1), en)

	second, err := s.Experiment(-2)
	require.NoError(t, err)
	assert.Len(t, second, 1)

	_, err = s.Experiment(9)
	assert.ErrorIs(t, err, types.ErrExperimentNotFound)
	_, err = s.Experiment(-4)
	assert.ErrorIs(t, err, types.ErrExperimentNotFound)
}
