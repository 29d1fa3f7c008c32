package metrics

import "github.com/prometheus/client_golang/prometheus"

// Indexer Prometheus metrics.
var (
	IndexRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_runs_total",
			Help:      "Indexing runs by outcome",
		},
		[]string{"status"}, // done, partial, error, cancelled
	)

	IndexChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_chunks_total",
			Help:      "Chunks processed by indexing runs",
		},
		[]string{"result"}, // added, updated, unchanged, restamped, removed, failed
	)

	IndexRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_run_duration_seconds",
			Help:      "Indexing run duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	IndexChunksStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_chunks_stored",
			Help:      "Chunks present in the store after the last run",
		},
	)
)
