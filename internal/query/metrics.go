package query

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheLookups counts snapshot cache lookups.
	// Labels: result (hit, miss)
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecsnap",
			Subsystem: "query",
			Name:      "cache_lookups_total",
			Help:      "Total number of snapshot cache lookups",
		},
		[]string{"result"},
	)

	// snapshotLoads counts snapshot loads.
	// Labels: result (success, not_found, malformed, error)
	snapshotLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecsnap",
			Subsystem: "query",
			Name:      "snapshot_loads_total",
			Help:      "Total number of snapshot loads by result",
		},
		[]string{"result"},
	)

	// staleServes counts lookups answered from an expired snapshot after a
	// failed reload.
	staleServes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vecsnap",
			Subsystem: "query",
			Name:      "stale_serves_total",
			Help:      "Total number of lookups served from an expired snapshot",
		},
	)

	// queryDuration tracks end-to-end query latency, including loads.
	queryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vecsnap",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Duration of similarity queries in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// snapshotItems reports the item count of the installed snapshot.
	snapshotItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vecsnap",
			Subsystem: "query",
			Name:      "snapshot_items",
			Help:      "Number of items in the currently loaded snapshot",
		},
	)
)
