// This file implements the run lifecycle: counters at begin, stamping and
// saving at finish, and the scoped Do form.
package store

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mesh-intelligence/rigor/pkg/record"
	"github.com/mesh-intelligence/rigor/pkg/types"
)

// PanicError carries a panic out of a run body so the run can be finished as
// failed before the panic is re-raised.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in run body: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

type run struct {
	store      *Store
	ctx        context.Context
	span       trace.Span
	experiment *record.Node
	node       *record.Node
	state      types.RunState
	start      time.Time
	finished   bool
}

var _ types.Run = (*run)(nil)

func (r *run) Node() *record.Node      { return r.node }
func (r *run) ExperimentNumber() int64 { return r.state.ExperimentNumber }
func (r *run) ErrorNumber() int64      { return r.state.ErrorNumber }

// BeginRun starts a run. The experiment node, carrying the run counters and
// start time, is derived from the collection node; when info is non-empty a
// child carrying info becomes the run's node.
func (s *Store) BeginRun(ctx context.Context, info map[string]any) (types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, types.ErrStoreClosed
	}
	if s.active != nil {
		return nil, types.ErrRunActive
	}

	state := s.state.Next()
	start := s.now()
	fields := state.Fields()
	fields[types.FieldStartTime] = start.UTC().Format(time.RFC3339Nano)

	experiment := s.collection.Derive(fields)
	node := experiment
	if len(info) > 0 {
		node = experiment.Derive(info)
	}

	ctx, span := s.tracer.Start(ctx, "rigor.run", trace.WithAttributes(
		attribute.String("rigor.store", s.Name()),
		attribute.Int64("rigor.experiment_number", state.ExperimentNumber),
		attribute.Int64("rigor.error_number", state.ErrorNumber),
	))

	r := &run{
		store:      s,
		ctx:        ctx,
		span:       span,
		experiment: experiment,
		node:       node,
		state:      state,
		start:      start,
	}
	s.active = r
	s.logger.Debug("run started", "store", s.Name(),
		"experiment_number", state.ExperimentNumber, "error_number", state.ErrorNumber)
	return r, nil
}

// Finish stamps the end time and duration, clears the error flag when err is
// nil, saves the store and returns err. The partial data of a failed run is
// saved before err is returned.
func (r *run) Finish(err error) error {
	s := r.store
	s.mu.Lock()
	if r.finished {
		s.mu.Unlock()
		return types.ErrRunFinished
	}
	r.finished = true
	if s.active == r {
		s.active = nil
	}

	end := s.now()
	elapsed := end.Sub(r.start)
	r.experiment.SetField(types.FieldEndTime, end.UTC().Format(time.RFC3339Nano))
	r.experiment.SetField(types.FieldDuration, elapsed.Seconds())
	if err == nil {
		r.experiment.SetField(types.FieldHadError, false)
		r.experiment.SetField(types.FieldErrorNumber, int64(0))
	}
	s.previous = r.experiment.Attrs()
	s.state = types.StateFromFields(s.previous)

	saveErr := s.saveLocked(r.ctx)
	s.metrics.observeRun(elapsed, err != nil)
	s.mu.Unlock()

	if err != nil {
		attrs := []any{
			"store", s.Name(),
			"experiment_number", r.state.ExperimentNumber,
			"error_number", r.state.ErrorNumber,
			"error", err,
		}
		var pe *PanicError
		if errors.As(err, &pe) {
			attrs = append(attrs, "stack", string(pe.Stack))
		}
		s.logger.Error("run failed; partial data saved", attrs...)
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	} else if saveErr == nil {
		r.span.SetStatus(codes.Ok, "")
	}
	if saveErr != nil {
		r.span.RecordError(saveErr)
		r.span.SetStatus(codes.Error, saveErr.Error())
	}
	r.span.End()

	if saveErr != nil {
		return errors.Join(err, fmt.Errorf("saving run: %w", saveErr))
	}
	return err
}

// Do runs fn inside a run and finishes the run exactly once. fn's error is
// returned unchanged unless saving also failed. A panic in fn finishes the
// run with a *PanicError and is then re-raised with its original value.
func (s *Store) Do(ctx context.Context, info map[string]any, fn func(*record.Node) error) error {
	r, err := s.BeginRun(ctx, info)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			pe := &PanicError{Value: p, Stack: debug.Stack()}
			if err := r.Finish(pe); err != nil && err != error(pe) {
				s.logger.Error("saving panicked run failed",
					"store", s.Name(), "experiment_number", r.ExperimentNumber(), "error", err)
			}
			panic(p)
		}
	}()
	return r.Finish(fn(r.Node()))
}
