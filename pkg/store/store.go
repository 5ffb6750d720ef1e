// Package store provides the public API for opening run stores. It exposes the
// factory and options while keeping the implementation internal.
package store

import (
	"context"

	"github.com/mesh-intelligence/rigor/internal/store"
	"github.com/mesh-intelligence/rigor/pkg/record"
	"github.com/mesh-intelligence/rigor/pkg/types"
)

// Option configures a store at Open.
type Option = store.Option

// PanicError is the error a run finished with when its body panicked.
type PanicError = store.PanicError

// Open opens the run store in cfg.DataDir, creating it on first use.
//
// Example:
//
//	s, err := store.Open(types.Config{DataDir: "runs/demo"})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	err = s.Do(ctx, map[string]any{"tag": "A"}, func(root *record.Node) error {
//	    train := root.Derive(map[string]any{"phase": "train"})
//	    train.Push(map[string]any{"loss": 0.5})
//	    return nil
//	})
func Open(cfg types.Config, opts ...Option) (types.RunStore, error) {
	s, err := store.Open(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Run opens the store, runs fn inside a single run and closes the store.
func Run(ctx context.Context, cfg types.Config, info map[string]any, fn func(*record.Node) error, opts ...Option) error {
	s, err := store.Open(cfg, opts...)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Do(ctx, info, fn)
}

// Options, re-exported from the implementation.
var (
	WithLogger         = store.WithLogger
	WithRegistry       = store.WithRegistry
	WithMetrics        = store.WithMetrics
	WithTracerProvider = store.WithTracerProvider
	WithClock          = store.WithClock
)
