// JSON structures that define the on-disk format of a store directory.
package store

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/mesh-intelligence/rigor/pkg/lineage"
)

// Files in a store directory.
const (
	idFile                = "store.id"
	metadataFile          = "metadata.json"
	layersFile            = "layers.jsonl"
	recordsFile           = "records.jsonl"
	compressedRecordsFile = "records.jsonl.gz"
)

// layerJSON is one attribute layer in layers.jsonl and in metadata.json.
type layerJSON struct {
	LayerID string          `json:"layer_id"`
	Data    json.RawMessage `json:"data"`
}

// recordJSON is one committed record in the record log. Own and Lineage
// rebuild the record; Fields is the flattened copy for readers that do not
// use this package.
type recordJSON struct {
	Seq     int             `json:"seq"`
	Own     json.RawMessage `json:"own"`
	Lineage []string        `json:"lineage"`
	Fields  json.RawMessage `json:"fields,omitempty"`
}

// metadataJSON is metadata.json: collection-level data plus the attributes of
// the most recent run.
type metadataJSON struct {
	StoreID     string          `json:"store_id"`
	Collection  layerJSON       `json:"collection"`
	PreviousRun json.RawMessage `json:"previous_run,omitempty"`
	SavedAt     string          `json:"saved_at"`
	RecordCount int             `json:"record_count"`
}

func encodeLayer(l *lineage.Layer) (layerJSON, error) {
	data, err := marshalFields(l.Data())
	if err != nil {
		return layerJSON{}, fmt.Errorf("encoding layer %s: %w", l.ID(), err)
	}
	return layerJSON{LayerID: l.ID(), Data: data}, nil
}

func encodeRecord(seq int, rec *lineage.Record) (json.RawMessage, error) {
	own, err := marshalFields(rec.Own())
	if err != nil {
		return nil, fmt.Errorf("encoding record %d: %w", seq, err)
	}
	fields, err := marshalFields(rec.Flatten())
	if err != nil {
		return nil, fmt.Errorf("encoding record %d: %w", seq, err)
	}
	rj := recordJSON{Seq: seq, Own: own, Fields: fields}
	for _, l := range rec.Ancestors() {
		rj.Lineage = append(rj.Lineage, l.ID())
	}
	return json.Marshal(rj)
}

// marshalFields encodes a field map. Non-finite floats, which JSON cannot
// represent, are written as the strings "NaN", "+Inf" and "-Inf" at any
// depth. A field that still cannot be encoded is written as its fmt string.
func marshalFields(fields map[string]any) (json.RawMessage, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = sanitize(v)
	}
	data, err := json.Marshal(out)
	if err == nil {
		return data, nil
	}
	for k, v := range out {
		if _, err := json.Marshal(v); err != nil {
			out[k] = fmt.Sprint(fields[k])
		}
	}
	return json.Marshal(out)
}

// sanitize rewrites non-finite floats inside v. Maps, slices, arrays and
// pointers are walked; other values are returned unchanged.
func sanitize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case string, bool, int, int64, json.Number, json.RawMessage, []byte:
		return v
	}
	return sanitizeValue(reflect.ValueOf(v))
}

func sanitizeValue(rv reflect.Value) any {
	if rv.Kind() != reflect.Interface && rv.CanInterface() {
		if m, ok := rv.Interface().(json.Marshaler); ok {
			if rv.Kind() == reflect.Pointer && rv.IsNil() {
				return nil
			}
			return m
		}
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return sanitizeValue(rv.Elem())
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface()
		}
		return sanitizeElems(rv)
	case reflect.Array:
		return sanitizeElems(rv)
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, ok := mapKey(iter.Key())
			if !ok {
				return rv.Interface()
			}
			out[key] = sanitizeValue(iter.Value())
		}
		return out
	}
	if !rv.CanInterface() {
		return nil
	}
	return rv.Interface()
}

func sanitizeElems(rv reflect.Value) []any {
	out := make([]any, rv.Len())
	for i := range rv.Len() {
		out[i] = sanitizeValue(rv.Index(i))
	}
	return out
}

// mapKey renders a map key the way encoding/json does for string and
// integer kinds.
func mapKey(k reflect.Value) (string, bool) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), true
	}
	return "", false
}

func finite(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	default:
		return f
	}
}
