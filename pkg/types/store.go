package types

import (
	"context"
	"errors"
	"io"

	"github.com/mesh-intelligence/rigor/pkg/lineage"
	"github.com/mesh-intelligence/rigor/pkg/record"
)

// RunStore is a directory-backed collection of records accumulated across
// repeated runs of the same experiment. It is a record.Sink: nodes bound to it
// commit their records into its buffer.
type RunStore interface {
	record.Sink

	// Dir returns the absolute store directory.
	Dir() string

	// Name returns the base name of the store directory.
	Name() string

	// Collection returns the collection-level node. Its attributes are
	// persisted with the store and are the root of every record's lineage.
	Collection() *record.Node

	// State returns the counters of the most recent run.
	State() RunState

	// Len returns the number of committed plus buffered records.
	Len() (int, error)

	// Save merges buffered records into the committed log and writes the
	// store to disk.
	Save(ctx context.Context) error

	// Reload drops cached metadata and records; the next access re-reads the
	// directory. Buffered records are kept.
	Reload() error

	// Close releases the query index and unregisters the store. Buffered
	// records that were not saved are dropped.
	Close() error

	// BeginRun starts a run. Only one run may be active per store.
	BeginRun(ctx context.Context, info map[string]any) (Run, error)

	// Do runs fn inside a run and finishes it exactly once, returning fn's
	// error unchanged.
	Do(ctx context.Context, info map[string]any, fn func(*record.Node) error) error

	// Fetch returns the records whose flattened fields match filter. A slice
	// value matches any of its elements; nil matches an explicit null.
	Fetch(filter map[string]any) ([]*lineage.Record, error)

	// ExperimentNumbers returns the distinct experiment numbers, ascending.
	ExperimentNumbers() ([]int64, error)

	// Experiment returns the records of experiment n. Negative n counts back
	// from the most recent experiment.
	Experiment(n int64) ([]*lineage.Record, error)

	// Export writes every record, flattened, as one JSON object per line.
	Export(w io.Writer) error
}

// Run is one execution of an experiment body.
type Run interface {
	// Node returns the node the run body records under.
	Node() *record.Node

	ExperimentNumber() int64
	ErrorNumber() int64

	// Finish stamps the end time, saves the store and returns err unchanged,
	// joined with the save error if saving failed. It may be called once.
	Finish(err error) error
}

// Store lifecycle and query errors.
var (
	ErrStoreClosed        = errors.New("store is closed")
	ErrRunActive          = errors.New("a run is already active on this store")
	ErrRunFinished        = errors.New("run is already finished")
	ErrInvalidFilter      = errors.New("invalid filter")
	ErrExperimentNotFound = errors.New("experiment not found")
	ErrCorruptMetadata    = errors.New("store metadata is corrupt")
)
