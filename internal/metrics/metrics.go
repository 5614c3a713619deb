// Package metrics counts the work done by one comparison run.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"dirdiff/internal/record"
)

// Run holds the counters of a single comparison. Each Run owns its registry
// so concurrent runs in one process do not share state.
type Run struct {
	registry *prometheus.Registry

	entriesWalked *prometheus.CounterVec
	walkErrors    *prometheus.CounterVec
	tasks         prometheus.Counter
	bytesRead     prometheus.Counter
	records       *prometheus.CounterVec
	workers       prometheus.Gauge
}

func New() *Run {
	m := &Run{
		registry: prometheus.NewRegistry(),
		entriesWalked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dirdiff",
			Subsystem: "walk",
			Name:      "entries_total",
			Help:      "Entries found while walking a tree",
		}, []string{"tree"}),
		walkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dirdiff",
			Subsystem: "walk",
			Name:      "errors_total",
			Help:      "Entries that could not be read while walking a tree",
		}, []string{"tree"}),
		tasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dirdiff",
			Subsystem: "compare",
			Name:      "tasks_total",
			Help:      "Paths present in both trees that were compared",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dirdiff",
			Subsystem: "compare",
			Name:      "bytes_read_total",
			Help:      "File content bytes read during comparison, both trees combined",
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dirdiff",
			Name:      "records_total",
			Help:      "Records emitted by kind",
		}, []string{"kind"}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dirdiff",
			Subsystem: "compare",
			Name:      "workers",
			Help:      "Worker goroutines used for comparison",
		}),
	}

	m.registry.MustRegister(m.entriesWalked, m.walkErrors, m.tasks, m.bytesRead, m.records, m.workers)
	return m
}

func (m *Run) Registry() *prometheus.Registry {
	return m.registry
}

// Walked records the size of one completed snapshot. tree is "first" or "second".
func (m *Run) Walked(tree string, entries, errors int) {
	m.entriesWalked.WithLabelValues(tree).Add(float64(entries))
	m.walkErrors.WithLabelValues(tree).Add(float64(errors))
}

func (m *Run) TaskDone() {
	m.tasks.Inc()
}

func (m *Run) BytesRead(n int) {
	m.bytesRead.Add(float64(n))
}

func (m *Run) Workers(n int) {
	m.workers.Set(float64(n))
}

func (m *Run) Record(r record.Record) {
	m.records.WithLabelValues(r.Kind.String()).Inc()
}

// WriteFile writes all counters in the Prometheus text format, suitable for
// the node exporter textfile collector.
func (m *Run) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
