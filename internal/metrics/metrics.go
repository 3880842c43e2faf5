// Package metrics exposes the prometheus instrumentation for aggregation
// runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set bundles the collectors the aggregation pipeline reports into.
type Set struct {
	RunsTotal          *prometheus.CounterVec
	UnitsTotal         *prometheus.CounterVec
	RunDurationSeconds *prometheus.HistogramVec
	SumAnomaliesTotal  prometheus.Counter
}

// New builds the collector set and registers it on the given registerer.
func New(registerer prometheus.Registerer) *Set {
	set := &Set{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "aggregation",
			Name:      "runs_total",
			Help:      "Aggregation runs started, by mode.",
		}, []string{"mode"}),
		UnitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "aggregation",
			Name:      "units_total",
			Help:      "Aggregation units processed, by result.",
		}, []string{"result"}),
		RunDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pulse",
			Subsystem: "aggregation",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of aggregation runs, by mode.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"mode"}),
		SumAnomaliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse",
			Subsystem: "stats",
			Name:      "sum_anomalies_total",
			Help:      "Snapshot sum-invariant violations observed after rollups.",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			set.RunsTotal,
			set.UnitsTotal,
			set.RunDurationSeconds,
			set.SumAnomaliesTotal,
		)
	}
	return set
}
