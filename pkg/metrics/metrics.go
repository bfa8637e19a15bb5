// Package metrics defines the Prometheus metrics of the passport registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the status model and version ledger.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Versions appended to the ledger
	VersionsCreated prometheus.Counter

	// createVersion calls lost to a concurrent writer or duplicate key
	VersionConflicts prometheus.Counter

	// Status model writes by kind and operation
	StatusModelMutations *prometheus.CounterVec

	// Reads that returned empty because storage was unavailable
	DegradedReads *prometheus.CounterVec

	CreateVersionLatency prometheus.Histogram
}

// New registers all metrics with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VersionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "passport_versions_created_total",
			Help: "Total passport versions appended to the ledger",
		}),

		VersionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "passport_version_conflicts_total",
			Help: "Total version creations rejected by a concurrent update or duplicate version",
		}),

		StatusModelMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_status_model_mutations_total",
			Help: "Total status model mutations by entity kind and operation",
		}, []string{"kind", "op"}), // kind: "status", "transition"; op: "create", "update", "delete"

		DegradedReads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_degraded_reads_total",
			Help: "Total reads answered with an empty result because storage was unavailable",
		}, []string{"op"}),

		CreateVersionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "passport_create_version_duration_seconds",
			Help:    "Duration of the createVersion transaction",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

// IncVersionCreated records a successful createVersion.
func (m *Metrics) IncVersionCreated() {
	if m != nil {
		m.VersionsCreated.Inc()
	}
}

// IncVersionConflict records a createVersion that lost a race.
func (m *Metrics) IncVersionConflict() {
	if m != nil {
		m.VersionConflicts.Inc()
	}
}

// IncStatusModelMutation records a status or transition write.
func (m *Metrics) IncStatusModelMutation(kind, op string) {
	if m != nil {
		m.StatusModelMutations.WithLabelValues(kind, op).Inc()
	}
}

// IncDegradedRead records a read that degraded to an empty result.
func (m *Metrics) IncDegradedRead(op string) {
	if m != nil {
		m.DegradedReads.WithLabelValues(op).Inc()
	}
}

// ObserveCreateVersion records the duration of a createVersion call.
func (m *Metrics) ObserveCreateVersion(d time.Duration) {
	if m != nil {
		m.CreateVersionLatency.Observe(d.Seconds())
	}
}
