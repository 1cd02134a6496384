package retention

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stageRemovals counts items removed by each stage.
	// Labels: stage (age, source, capacity)
	stageRemovals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecsnap",
			Subsystem: "retention",
			Name:      "items_removed_total",
			Help:      "Total number of items removed by retention stage",
		},
		[]string{"stage"},
	)

	// mirrorDeleteFailures counts mirror delete batches that failed.
	mirrorDeleteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vecsnap",
			Subsystem: "retention",
			Name:      "mirror_delete_failures_total",
			Help:      "Total number of failed mirror delete batches",
		},
	)
)
