package storage

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects storage-layer counters. Pass a nil registerer to keep the
// metrics unregistered (tests).
type Metrics struct {
	WALSegmentsWritten prometheus.Counter
	WALBytesWritten    prometheus.Counter
	WALSegmentsDeleted prometheus.Counter
	Checkpoints        prometheus.Counter
	CheckpointFailures prometheus.Counter
	Restores           prometheus.Counter
	CheckpointDuration prometheus.Histogram
}

// NewMetrics creates and optionally registers the storage metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WALSegmentsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltaflow_wal_segments_written_total",
			Help: "Number of WAL segment objects written.",
		}),
		WALBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltaflow_wal_bytes_written_total",
			Help: "Total bytes written to the WAL.",
		}),
		WALSegmentsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltaflow_wal_segments_deleted_total",
			Help: "Number of WAL segment objects removed by GC or truncation.",
		}),
		Checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltaflow_checkpoints_total",
			Help: "Number of checkpoints successfully published.",
		}),
		CheckpointFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltaflow_checkpoint_failures_total",
			Help: "Number of checkpoint attempts that failed before publishing.",
		}),
		Restores: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deltaflow_restores_total",
			Help: "Number of restore-from-checkpoint operations.",
		}),
		CheckpointDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "deltaflow_checkpoint_duration_seconds",
			Help:    "Wall-clock duration of checkpoint operations.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.WALSegmentsWritten,
			m.WALBytesWritten,
			m.WALSegmentsDeleted,
			m.Checkpoints,
			m.CheckpointFailures,
			m.Restores,
			m.CheckpointDuration,
		)
	}

	return m
}
