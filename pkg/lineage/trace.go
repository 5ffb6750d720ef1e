package lineage

// Provenance describes one layer's contribution to a key lookup.
type Provenance struct {
	LayerID string `json:"layer_id,omitempty"` // empty for the view's local layer
	Depth   int    `json:"depth"`              // 0 local, 1 nearest ancestor, ...
	Value   any    `json:"value,omitempty"`
	Found   bool   `json:"found"`
	Winner  bool   `json:"winner"` // the layer Get resolves key from
}

// Trace walks the chain in resolution order and reports, for every layer,
// whether it holds key. At most one entry is marked Winner.
func (v *View) Trace(key string) []Provenance {
	out := make([]Provenance, 0, len(v.ancestors)+1)
	won := false

	val, ok := v.own[key]
	out = append(out, Provenance{Depth: 0, Value: val, Found: ok, Winner: ok})
	won = ok

	for i, a := range v.ancestors {
		val, ok := a.Get(key)
		p := Provenance{LayerID: a.ID(), Depth: i + 1, Value: val, Found: ok}
		if ok && !won {
			p.Winner = true
			won = true
		}
		out = append(out, p)
	}
	return out
}
