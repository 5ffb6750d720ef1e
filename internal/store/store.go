// Package store implements the directory-backed run store. JSONL files are
// the source of truth; an in-memory SQLite database serves field queries.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mesh-intelligence/rigor/pkg/lineage"
	"github.com/mesh-intelligence/rigor/pkg/record"
	"github.com/mesh-intelligence/rigor/pkg/types"
)

// Store implements types.RunStore over a directory.
type Store struct {
	mu     sync.Mutex
	dir    string
	config types.Config
	id     string

	logger   *slog.Logger
	registry *record.Registry
	metrics  *metrics
	tracer   trace.Tracer
	now      func() time.Time

	// Loaded eagerly at Open and on Reload.
	collection *record.Node
	previous   map[string]any
	state      types.RunState

	// layers interns every layer seen by this process by ID, so records
	// loaded from disk share the live layers of nodes created before.
	layers map[string]*lineage.Layer

	committed []*lineage.Record // lazily loaded
	loaded    bool
	buffered  []*lineage.Record

	active *run
	closed bool

	index      *index
	indexDirty bool
	indexRev   uint64 // lineage.Revision at the last rebuild
}

var _ types.RunStore = (*Store)(nil)

// Open opens the store at cfg.DataDir, creating the directory and the
// identity marker on first use. Metadata is read immediately; the record log
// is read on first access.
func Open(cfg types.Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	dir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving store directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		config:     cfg,
		logger:     o.logger,
		registry:   o.registry,
		metrics:    newMetrics(o.registerer),
		tracer:     o.tracer.Tracer(tracerName),
		now:        o.now,
		layers:     make(map[string]*lineage.Layer),
		indexDirty: true,
	}

	if s.id, err = s.readOrCreateID(); err != nil {
		return nil, err
	}
	if err := s.loadMetadataLocked(); err != nil {
		return nil, err
	}
	if err := s.registry.Register(s); err != nil {
		return nil, fmt.Errorf("registering store: %w", err)
	}
	return s, nil
}

func (s *Store) ID() string   { return s.id }
func (s *Store) Dir() string  { return s.dir }
func (s *Store) Name() string { return filepath.Base(s.dir) }

// Collection returns the collection-level node.
func (s *Store) Collection() *record.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection
}

// State returns the counters of the most recent run.
func (s *Store) State() types.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AddRecord appends rec to the buffer. Nothing is written until Save.
func (s *Store) AddRecord(rec *lineage.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffered = append(s.buffered, rec)
	s.indexDirty = true
	s.metrics.records.Inc()
}

// Records returns the committed records followed by the buffered ones,
// loading the record log on first call.
func (s *Store) Records() ([]*lineage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, types.ErrStoreClosed
	}
	if err := s.ensureLoadedLocked(context.Background()); err != nil {
		return nil, err
	}
	return s.allLocked(), nil
}

// Len returns the number of committed plus buffered records.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, types.ErrStoreClosed
	}
	if err := s.ensureLoadedLocked(context.Background()); err != nil {
		return 0, err
	}
	return len(s.committed) + len(s.buffered), nil
}

func (s *Store) allLocked() []*lineage.Record {
	out := make([]*lineage.Record, 0, len(s.committed)+len(s.buffered))
	out = append(out, s.committed...)
	return append(out, s.buffered...)
}

func (s *Store) ensureLoadedLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	return s.loadRecordsLocked(ctx)
}

// Save merges the buffer into the committed log and writes the store.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

// saveLocked writes layers and records before metadata, each atomically, so
// an interrupted save never leaves metadata pointing past the record log.
func (s *Store) saveLocked(ctx context.Context) (err error) {
	if s.closed {
		return types.ErrStoreClosed
	}
	ctx, span := s.tracer.Start(ctx, "rigor.store.save",
		trace.WithAttributes(attribute.String("rigor.store", s.Name())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	start := time.Now()

	if err := s.ensureLoadedLocked(ctx); err != nil {
		return err
	}
	all := s.allLocked()
	s.logger.Info("saving records", "store", s.Name(), "count", len(all))

	layerLines, recordLines, err := s.encodeLogLocked(all)
	if err != nil {
		return err
	}
	if err := writeJSONL(filepath.Join(s.dir, layersFile), layerLines); err != nil {
		return fmt.Errorf("writing %s: %w", layersFile, err)
	}
	recordsPath, stalePath := s.recordPaths()
	if err := writeJSONL(recordsPath, recordLines); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(recordsPath), err)
	}
	if err := os.Remove(stalePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing stale record log: %w", err)
	}
	if err := s.writeMetadataLocked(len(all)); err != nil {
		return err
	}

	s.committed = all
	s.buffered = nil
	s.indexDirty = true
	s.logger.Info("records saved", "path", recordsPath)
	s.metrics.saveDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("rigor.records", len(all)))
	return nil
}

// encodeLogLocked encodes every record plus each distinct layer referenced by
// a record or by the collection node, in order of first use. Written layers
// are interned so a later reload resolves them to the same live layers.
func (s *Store) encodeLogLocked(all []*lineage.Record) (layers, records []json.RawMessage, err error) {
	seen := make(map[string]bool)
	addLayer := func(l *lineage.Layer) error {
		if seen[l.ID()] {
			return nil
		}
		seen[l.ID()] = true
		s.intern(l)
		lj, err := encodeLayer(l)
		if err != nil {
			return err
		}
		line, err := json.Marshal(lj)
		if err != nil {
			return fmt.Errorf("encoding layer %s: %w", l.ID(), err)
		}
		layers = append(layers, line)
		return nil
	}

	if err := addLayer(s.collection.Layer()); err != nil {
		return nil, nil, err
	}
	for seq, rec := range all {
		for _, l := range rec.Ancestors() {
			if err := addLayer(l); err != nil {
				return nil, nil, err
			}
		}
		line, err := encodeRecord(seq, rec)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, line)
	}
	return layers, records, nil
}

func (s *Store) writeMetadataLocked(count int) error {
	collection, err := encodeLayer(s.collection.Layer())
	if err != nil {
		return err
	}
	meta := metadataJSON{
		StoreID:     s.id,
		Collection:  collection,
		SavedAt:     s.now().UTC().Format(time.RFC3339Nano),
		RecordCount: count,
	}
	if s.previous != nil {
		if meta.PreviousRun, err = marshalFields(s.previous); err != nil {
			return fmt.Errorf("encoding previous run: %w", err)
		}
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, metadataFile), data); err != nil {
		return fmt.Errorf("writing %s: %w", metadataFile, err)
	}
	return nil
}

// recordPaths returns the record log path for the configured compression and
// the path of the other variant, which a save removes.
func (s *Store) recordPaths() (current, other string) {
	plain := filepath.Join(s.dir, recordsFile)
	gz := filepath.Join(s.dir, compressedRecordsFile)
	if s.config.Compress {
		return gz, plain
	}
	return plain, gz
}

// Reload drops the cached metadata and record log and re-reads metadata.
// Buffered records and interned layers are kept.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}
	s.committed = nil
	s.loaded = false
	s.indexDirty = true
	return s.loadMetadataLocked()
}

// Close releases the query index and unregisters the store. Close is
// idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.registry.Unregister(s)

	if s.index != nil {
		if err := s.index.close(); err != nil {
			return fmt.Errorf("closing query index: %w", err)
		}
		s.index = nil
	}
	return nil
}
