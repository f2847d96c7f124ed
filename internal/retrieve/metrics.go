package retrieve

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var retrievalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "disasterops_retrieval_duration_seconds",
	Help:    "Hybrid retrieval latency per query",
	Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
}, []string{"fusion"})
