// This file implements the SQLite query index behind Fetch, Experiment and
// ExperimentNumbers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/rigor/pkg/lineage"
	"github.com/mesh-intelligence/rigor/pkg/types"
)

type index struct {
	db *sql.DB
}

// openIndex creates an empty in-memory index. A single connection keeps every
// query on the same in-memory database.
func openIndex() (*index, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening query index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	for _, ddl := range schemaDDL {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating query index: %w", err)
		}
	}
	return &index{db: db}, nil
}

func (x *index) close() error {
	return x.db.Close()
}

// rebuild replaces the index contents with recs. Records whose fields cannot
// be encoded are indexed as empty objects and match no filter.
func (x *index) rebuild(ctx context.Context, recs []*lineage.Record) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning index rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertRecord)
	if err != nil {
		return fmt.Errorf("preparing index insert: %w", err)
	}
	defer stmt.Close()

	for seq, rec := range recs {
		fields, err := marshalFields(rec.Flatten())
		if err != nil {
			fields = []byte("{}")
		}
		if _, err := stmt.ExecContext(ctx, seq, string(fields)); err != nil {
			return fmt.Errorf("indexing record %d: %w", seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index rebuild: %w", err)
	}
	return nil
}

// match returns the positions of the records matching filter, ascending.
func (x *index) match(ctx context.Context, filter map[string]any) ([]int, error) {
	query := "SELECT seq FROM records"
	var conditions []string
	var args []any

	for _, key := range slices.Sorted(maps.Keys(filter)) {
		if key == "" || strings.Contains(key, `"`) {
			return nil, fmt.Errorf("%w: key %q", types.ErrInvalidFilter, key)
		}
		cond, condArgs, err := valueCondition(`$."`+key+`"`, filter[key])
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", types.ErrInvalidFilter, key, err)
		}
		conditions = append(conditions, cond)
		args = append(args, condArgs...)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	defer rows.Close()

	var seqs []int
	for rows.Next() {
		var seq int
		if err := rows.Scan(&seq); err != nil {
			return nil, fmt.Errorf("scanning index row: %w", err)
		}
		seqs = append(seqs, seq)
	}
	return seqs, rows.Err()
}

func (x *index) experimentNumbers(ctx context.Context) ([]int64, error) {
	rows, err := x.db.QueryContext(ctx, selectExperimentNumbers)
	if err != nil {
		return nil, fmt.Errorf("querying experiment numbers: %w", err)
	}
	defer rows.Close()

	var nums []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scanning experiment number: %w", err)
		}
		nums = append(nums, n)
	}
	return nums, rows.Err()
}

// valueCondition builds the SQL condition matching path against v. Slices
// and arrays match any element; nil matches an explicit JSON null.
func valueCondition(path string, v any) (string, []any, error) {
	if v == nil {
		return "json_type(fields, ?) = 'null'", []any{path}, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return "", nil, fmt.Errorf("unsupported value type %T", v)
		}
		if rv.Len() == 0 {
			return "0", nil, nil
		}
		var conds []string
		var args []any
		for i := range rv.Len() {
			elem := rv.Index(i).Interface()
			if elem != nil {
				if k := reflect.TypeOf(elem).Kind(); k == reflect.Slice || k == reflect.Array || k == reflect.Map {
					return "", nil, fmt.Errorf("nested collection %T", elem)
				}
			}
			cond, condArgs, err := valueCondition(path, elem)
			if err != nil {
				return "", nil, err
			}
			conds = append(conds, cond)
			args = append(args, condArgs...)
		}
		return "(" + strings.Join(conds, " OR ") + ")", args, nil
	case reflect.Bool:
		if rv.Bool() {
			return "json_type(fields, ?) = 'true'", []any{path}, nil
		}
		return "json_type(fields, ?) = 'false'", []any{path}, nil
	case reflect.String:
		return "(json_type(fields, ?) = 'text' AND json_extract(fields, ?) = ?)", []any{path, path, rv.String()}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return numberCondition(path, rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return "", nil, fmt.Errorf("integer %d out of range", u)
		}
		return numberCondition(path, int64(u))
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", nil, fmt.Errorf("non-finite number %v", f)
		}
		return numberCondition(path, f)
	default:
		return "", nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func numberCondition(path string, n any) (string, []any, error) {
	return "(json_type(fields, ?) IN ('integer', 'real') AND json_extract(fields, ?) = ?)", []any{path, path, n}, nil
}

// indexLocked returns the query index, opening it on first use and
// rebuilding it when records or any layer changed since the last query.
func (s *Store) indexLocked(ctx context.Context) (*index, error) {
	if s.index == nil {
		idx, err := openIndex()
		if err != nil {
			return nil, err
		}
		s.index = idx
		s.indexDirty = true
	}
	rev := lineage.Revision()
	if s.indexDirty || rev != s.indexRev {
		if err := s.index.rebuild(ctx, s.allLocked()); err != nil {
			return nil, err
		}
		s.indexDirty = false
		s.indexRev = rev
	}
	return s.index, nil
}

// Fetch returns the records whose flattened fields match every entry of
// filter, in store order. An empty filter returns every record.
func (s *Store) Fetch(filter map[string]any) ([]*lineage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchLocked(context.Background(), filter)
}

func (s *Store) fetchLocked(ctx context.Context, filter map[string]any) ([]*lineage.Record, error) {
	if s.closed {
		return nil, types.ErrStoreClosed
	}
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	all := s.allLocked()
	if len(filter) == 0 {
		return all, nil
	}
	idx, err := s.indexLocked(ctx)
	if err != nil {
		return nil, err
	}
	seqs, err := idx.match(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*lineage.Record, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, all[seq])
	}
	return out, nil
}

// ExperimentNumbers returns the distinct experiment numbers found in the
// records, ascending.
func (s *Store) ExperimentNumbers() ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.experimentNumbersLocked(context.Background())
}

func (s *Store) experimentNumbersLocked(ctx context.Context) ([]int64, error) {
	if s.closed {
		return nil, types.ErrStoreClosed
	}
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	idx, err := s.indexLocked(ctx)
	if err != nil {
		return nil, err
	}
	return idx.experimentNumbers(ctx)
}

// Experiment returns the records of experiment n. A negative n indexes the
// ascending experiment numbers from the end, so -1 is the most recent.
func (s *Store) Experiment(n int64) ([]*lineage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	nums, err := s.experimentNumbersLocked(ctx)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		i := int64(len(nums)) + n
		if i < 0 {
			return nil, fmt.Errorf("%w: index %d of %d", types.ErrExperimentNotFound, n, len(nums))
		}
		n = nums[i]
	} else if !slices.Contains(nums, n) {
		return nil, fmt.Errorf("%w: %d", types.ErrExperimentNotFound, n)
	}
	return s.fetchLocked(ctx, map[string]any{types.FieldExperimentNumber: n})
}
