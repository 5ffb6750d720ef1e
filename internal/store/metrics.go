package store

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run result label values.
const (
	resultOK    = "ok"
	resultError = "error"
)

type metrics struct {
	runs         *prometheus.CounterVec
	records      prometheus.Counter
	runDuration  *prometheus.HistogramVec
	saveDuration prometheus.Histogram
}

// newMetrics builds the store collectors and registers them with reg when it
// is non-nil. Stores opened against the same registerer share collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		runs: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigor_runs_total",
				Help: "Total number of finished runs.",
			},
			[]string{"result"},
		)),
		records: register(reg, prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rigor_records_total",
				Help: "Total number of records committed to stores.",
			},
		)),
		runDuration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rigor_run_duration_seconds",
				Help:    "Wall time of a run from begin to finish.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"result"},
		)),
		saveDuration: register(reg, prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rigor_save_duration_seconds",
				Help:    "Time spent writing a store to disk.",
				Buckets: prometheus.DefBuckets,
			},
		)),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) observeRun(d time.Duration, failed bool) {
	result := resultOK
	if failed {
		result = resultError
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.WithLabelValues(result).Observe(d.Seconds())
}
