package record

import (
	"errors"
	"strings"
	"sync"

	"github.com/mesh-intelligence/rigor/pkg/lineage"
)

// Sink receives committed records and serves the full record sequence that
// nodes filter by lineage. A run store is the usual Sink.
type Sink interface {
	ID() string
	AddRecord(rec *lineage.Record)
	Records() ([]*lineage.Record, error)
}

// Registry maps store IDs to live sinks so that nodes rebuilt from a snapshot,
// which carry only a store ID, can find their store again. Stores register on
// open; nodes consult the registry lazily. Nothing in a single continuous
// process depends on it.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Sink
}

// DefaultRegistry is the process-wide registry used when no other is given.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Sink)}
}

// Register associates s with its ID, replacing any previous entry.
func (r *Registry) Register(s Sink) error {
	if r == nil {
		return errors.New("registry is nil")
	}
	if s == nil {
		return errors.New("sink cannot be nil")
	}
	id := strings.TrimSpace(s.ID())
	if id == "" {
		return errors.New("sink id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.m == nil {
		r.m = make(map[string]Sink)
	}
	r.m[id] = s
	return nil
}

// Unregister removes id if it is still bound to s.
func (r *Registry) Unregister(s Sink) {
	if r == nil || s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.m[s.ID()]; ok && cur == s {
		delete(r.m, s.ID())
	}
}

// Lookup returns the sink registered under id.
func (r *Registry) Lookup(id string) (Sink, bool) {
	if r == nil || id == "" {
		return nil, false
	}
	r.mu.RLock()
	s, ok := r.m[id]
	r.mu.RUnlock()
	return s, ok && s != nil
}
