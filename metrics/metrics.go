// Package metrics exposes Prometheus collectors for validation and merge
// activity on a private registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "specmerge"

// Label values.
const (
	ResultValid   = "valid"
	ResultInvalid = "invalid"
	ResultOK      = "ok"
	ResultFailed  = "failed"
)

// Recorder owns the collectors. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	validations *prometheus.CounterVec
	operations  *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		validations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "documents_total",
			Help:      "Change-spec documents validated, by result.",
		}, []string{"result"}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "operations_total",
			Help:      "Patch operations applied to canonical specs, by operation.",
		}, []string{"op"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "runs_total",
			Help:      "Merge runs, by result.",
		}, []string{"result"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "run_duration_seconds",
			Help:      "Wall time of merge runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
}

// Registry returns the registry holding the collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Validation counts one validated document.
func (r *Recorder) Validation(ok bool) {
	if r == nil {
		return
	}
	result := ResultValid
	if !ok {
		result = ResultInvalid
	}
	r.validations.WithLabelValues(result).Inc()
}

// Operations adds n applied operations of kind op.
func (r *Recorder) Operations(op string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.operations.WithLabelValues(op).Add(float64(n))
}

// Run records the outcome and duration of a merge run.
func (r *Recorder) Run(err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultFailed
	}
	r.runs.WithLabelValues(result).Inc()
	r.runDuration.Observe(elapsed.Seconds())
}

// WriteTextfile writes the registry in Prometheus text format, for pickup by
// node_exporter's textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
