package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/rigor/pkg/lineage"
	"github.com/mesh-intelligence/rigor/pkg/types"
)

// Summary describes a store directory as recorded by its last save.
type Summary struct {
	Name        string         `json:"name"`
	Dir         string         `json:"dir"`
	ID          string         `json:"store_id"`
	State       types.RunState `json:"state"`
	RecordCount int            `json:"record_count"`
	SavedAt     string         `json:"saved_at,omitempty"`
}

// IsStoreDir reports whether dir holds an identity marker.
func IsStoreDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, idFile))
	return err == nil && info.Mode().IsRegular()
}

// ReadSummary reads the identity marker and metadata of the store in dir
// without opening it. A store that was never saved has a zero state.
func ReadSummary(dir string) (Summary, error) {
	sum := Summary{Name: filepath.Base(dir), Dir: dir}
	id, err := os.ReadFile(filepath.Join(dir, idFile))
	if err != nil {
		return sum, fmt.Errorf("reading identity marker: %w", err)
	}
	sum.ID = string(bytes.TrimSpace(id))

	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		return sum, nil
	}
	if err != nil {
		return sum, fmt.Errorf("reading %s: %w", metadataFile, err)
	}
	var meta metadataJSON
	if err := json.Unmarshal(data, &meta); err != nil {
		return sum, fmt.Errorf("%w: %v", types.ErrCorruptMetadata, err)
	}
	previous, err := lineage.DecodeFields(meta.PreviousRun)
	if err != nil {
		return sum, fmt.Errorf("%w: previous run: %v", types.ErrCorruptMetadata, err)
	}
	sum.State = types.StateFromFields(previous)
	sum.RecordCount = meta.RecordCount
	sum.SavedAt = meta.SavedAt
	return sum, nil
}

// MetadataPath returns the path of the metadata file in dir. A save writes it
// last, so a change to it marks a completed save.
func MetadataPath(dir string) string {
	return filepath.Join(dir, metadataFile)
}
