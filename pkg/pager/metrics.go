package pager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the fetch pipeline.
var (
	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodepager_batches_total",
		Help: "Total ID batches processed",
	})

	batchFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodepager_batch_fallbacks_total",
		Help: "Total batches retried one ID at a time after a batch request failed",
	})

	nodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodepager_nodes_total",
		Help: "Total top-level nodes by outcome",
	}, []string{"outcome"}) // "written", "failed", "not_found"

	paginationRoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodepager_pagination_rounds_total",
		Help: "Total follow-up requests issued to drain nested connections",
	})

	nodeRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nodepager_node_rounds",
		Help:    "Follow-up requests needed to complete one node",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
	})
)
