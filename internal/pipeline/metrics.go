package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts pipeline runs.
	// Labels: operation (ingest, cleanup), result (success, error)
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecsnap",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs",
		},
		[]string{"operation", "result"},
	)

	// runDuration tracks pipeline run duration.
	// Labels: operation (ingest, cleanup)
	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vecsnap",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"operation"},
	)

	// exportBytes reports the size of the last published snapshot.
	// Labels: form (raw, compressed)
	exportBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vecsnap",
			Subsystem: "pipeline",
			Name:      "export_bytes",
			Help:      "Size in bytes of the last published snapshot",
		},
		[]string{"form"},
	)

	// unitsSkipped counts candidate units dropped by provider failures.
	// Labels: type (commit, file, qa)
	unitsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecsnap",
			Subsystem: "pipeline",
			Name:      "units_skipped_total",
			Help:      "Total number of candidate units skipped after embedding failures",
		},
		[]string{"type"},
	)

	// partialFailures counts isolated unit failures.
	partialFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vecsnap",
			Subsystem: "pipeline",
			Name:      "partial_failures_total",
			Help:      "Total number of isolated repository or source failures",
		},
	)

	// redactions counts secrets redacted before embedding.
	redactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vecsnap",
			Subsystem: "pipeline",
			Name:      "redactions_total",
			Help:      "Total number of secrets redacted from ingested content",
		},
	)
)
