package lineage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned when a payload expected to be a JSON object is
// some other JSON value.
var ErrNotObject = errors.New("payload is not a JSON object")

// DecodeFields decodes a JSON object into a field map. Integral numbers
// become int64 and all other numbers float64, so values read back from disk
// compare cleanly against the ints and floats callers stage.
func DecodeFields(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding fields: %w", err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return Normalize(obj).(map[string]any), nil
}

// Normalize replaces json.Number values, recursively, with int64 or float64.
func Normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, val := range x {
			x[k] = Normalize(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = Normalize(val)
		}
		return x
	default:
		return v
	}
}
