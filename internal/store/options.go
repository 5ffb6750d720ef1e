package store

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mesh-intelligence/rigor/pkg/record"
)

const tracerName = "github.com/mesh-intelligence/rigor/internal/store"

// Option configures a Store at Open.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	registry   *record.Registry
	registerer prometheus.Registerer
	tracer     trace.TracerProvider
	now        func() time.Time
}

func defaultOptions() options {
	return options{
		logger:   slog.Default(),
		registry: record.DefaultRegistry,
		tracer:   otel.GetTracerProvider(),
		now:      time.Now,
	}
}

// WithLogger sets the structured logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRegistry sets the registry the store registers itself in so that
// decoded nodes can find it by ID. Nil keeps record.DefaultRegistry.
func WithRegistry(r *record.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithMetrics registers the store's collectors with reg. Without it the
// collectors are still updated but never exported.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp
		}
	}
}

// WithClock overrides the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
