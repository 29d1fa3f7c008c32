package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval Prometheus metrics.
var (
	RetrievalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_requests_total",
			Help:      "Total retrieval requests by search mode and outcome",
		},
		[]string{"mode", "status"}, // status: ok, empty, degraded, error
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "End-to-end retrieval latency in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 1},
		},
		[]string{"mode"},
	)

	RetrievalResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_results",
			Help:      "Number of chunks returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 20},
		},
	)

	RetrievalDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_degraded_total",
			Help:      "Retrievals answered with fallback context",
		},
		[]string{"reason"}, // deadline, provider, storage
	)

	InferenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "category_inference_total",
			Help:      "Category inference outcomes",
		},
		[]string{"mode", "result"}, // result: matched, none, low_confidence, error
	)
)
