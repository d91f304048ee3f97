// Package resolution provides Prometheus collectors for tracker health monitoring.
package resolution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsTracked reports the number of live resolution records.
	RecordsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "resolvd",
			Subsystem: "tracker",
			Name:      "records_tracked",
			Help:      "Number of resolution records currently in the store",
		},
	)

	// SnapshotDuration tracks how long snapshot writes take.
	SnapshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "resolvd",
			Subsystem: "tracker",
			Name:      "snapshot_duration_seconds",
			Help:      "Duration of snapshot persistence in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// PersistenceFailures counts failed storage operations by stage.
	// Labels: stage (load, save)
	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resolvd",
			Subsystem: "tracker",
			Name:      "persistence_failures_total",
			Help:      "Total number of failed snapshot load/save operations",
		},
		[]string{"stage"},
	)

	// RecurrencesTotal counts detected recurrences of resolved errors.
	RecurrencesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "resolvd",
			Subsystem: "tracker",
			Name:      "recurrences_total",
			Help:      "Total number of recurrences tracked against resolved errors",
		},
	)
)
