// This file implements loading a store directory: identity marker, metadata
// and the lazily read record log.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mesh-intelligence/rigor/pkg/lineage"
	"github.com/mesh-intelligence/rigor/pkg/record"
	"github.com/mesh-intelligence/rigor/pkg/types"
)

// readOrCreateID returns the store ID from the identity marker, writing a new
// UUID v7 marker when the directory has none.
func (s *Store) readOrCreateID() (string, error) {
	path := filepath.Join(s.dir, idFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		id := string(bytes.TrimSpace(data))
		if _, perr := uuid.Parse(id); perr != nil {
			return "", fmt.Errorf("%w: bad identity marker %q", types.ErrCorruptMetadata, id)
		}
		return id, nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("reading identity marker: %w", err)
	}

	id := generateUUID()
	s.logger.Info("creating new store", "store", s.Name(), "dir", s.dir, "store_id", id)
	if err := writeFileAtomic(path, []byte(id+"\n")); err != nil {
		return "", fmt.Errorf("writing identity marker: %w", err)
	}
	return id, nil
}

// generateUUID generates a new UUID v7.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// loadMetadataLocked reads metadata.json. A missing file means the store has
// never been saved: the collection starts empty and the counters at zero.
func (s *Store) loadMetadataLocked() error {
	data, err := os.ReadFile(filepath.Join(s.dir, metadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		if s.collection == nil {
			s.setCollectionLocked(s.intern(lineage.NewLayer(nil)))
		}
		s.previous = nil
		s.state = types.RunState{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", metadataFile, err)
	}

	var meta metadataJSON
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("%w: %v", types.ErrCorruptMetadata, err)
	}
	if meta.StoreID != "" && meta.StoreID != s.id {
		s.logger.Warn("metadata belongs to another store", "store", s.Name(), "store_id", s.id, "metadata_store_id", meta.StoreID)
	}

	collection, err := s.restoreLayer(meta.Collection)
	if err != nil {
		return fmt.Errorf("%w: collection: %v", types.ErrCorruptMetadata, err)
	}
	s.setCollectionLocked(collection)

	previous, err := lineage.DecodeFields(meta.PreviousRun)
	if err != nil {
		return fmt.Errorf("%w: previous run: %v", types.ErrCorruptMetadata, err)
	}
	s.previous = previous
	if len(previous) == 0 {
		s.previous = nil
	}
	s.state = types.StateFromFields(previous)
	return nil
}

// setCollectionLocked binds the collection node to layer, keeping the current
// node when it already wraps the same layer.
func (s *Store) setCollectionLocked(layer *lineage.Layer) {
	if s.collection != nil && s.collection.Layer() == layer {
		return
	}
	s.collection = record.WithLayer(layer)
	s.collection.Attach(s, s.registry)
}

// intern returns the live layer with l's ID, registering l if there is none.
func (s *Store) intern(l *lineage.Layer) *lineage.Layer {
	if live, ok := s.layers[l.ID()]; ok {
		return live
	}
	s.layers[l.ID()] = l
	return l
}

// restoreLayer decodes a persisted layer. A layer already live in this
// process wins over its persisted copy.
func (s *Store) restoreLayer(lj layerJSON) (*lineage.Layer, error) {
	if lj.LayerID == "" {
		return nil, errors.New("layer without id")
	}
	if live, ok := s.layers[lj.LayerID]; ok {
		return live, nil
	}
	fields, err := lineage.DecodeFields(lj.Data)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", lj.LayerID, err)
	}
	return s.intern(lineage.RestoreLayer(lj.LayerID, fields)), nil
}

// loadRecordsLocked reads layers.jsonl and the record log. Missing files mean
// an empty log. Malformed lines, and records naming a layer that cannot be
// found, are skipped.
func (s *Store) loadRecordsLocked(ctx context.Context) (err error) {
	_, span := s.tracer.Start(ctx, "rigor.store.load")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	layerLines, err := readOptionalJSONL(filepath.Join(s.dir, layersFile))
	if err != nil {
		return err
	}
	for _, line := range layerLines {
		var lj layerJSON
		if err := json.Unmarshal(line, &lj); err != nil {
			continue
		}
		if _, err := s.restoreLayer(lj); err != nil {
			s.logger.Warn("skipping malformed layer", "store", s.Name(), "error", err)
		}
	}

	recordLines, err := s.readRecordLog()
	if err != nil {
		return err
	}
	committed := make([]*lineage.Record, 0, len(recordLines))
	skipped := 0
	for _, line := range recordLines {
		rec, ok := s.decodeRecord(line)
		if !ok {
			skipped++
			continue
		}
		committed = append(committed, rec)
	}
	if skipped > 0 {
		s.logger.Warn("skipped unreadable records", "store", s.Name(), "count", skipped)
	}

	s.committed = committed
	s.loaded = true
	s.indexDirty = true
	span.SetAttributes(attribute.Int("rigor.records", len(committed)))
	return nil
}

// readRecordLog reads the record log in the configured format, falling back
// to the other format so toggling compression keeps existing records.
func (s *Store) readRecordLog() ([]json.RawMessage, error) {
	current, other := s.recordPaths()
	lines, err := readJSONL(current)
	if err == nil {
		return lines, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return readOptionalJSONL(other)
}

func (s *Store) decodeRecord(line json.RawMessage) (*lineage.Record, bool) {
	var rj recordJSON
	if err := json.Unmarshal(line, &rj); err != nil {
		return nil, false
	}
	own, err := lineage.DecodeFields(rj.Own)
	if err != nil {
		return nil, false
	}
	ancestors := make([]*lineage.Layer, 0, len(rj.Lineage))
	for _, id := range rj.Lineage {
		l, ok := s.layers[id]
		if !ok {
			return nil, false
		}
		ancestors = append(ancestors, l)
	}
	return lineage.NewRecord(own, ancestors), true
}

func readOptionalJSONL(path string) ([]json.RawMessage, error) {
	lines, err := readJSONL(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return lines, err
}
