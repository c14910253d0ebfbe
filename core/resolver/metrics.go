package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamresolve",
			Name:      "resolutions_total",
			Help:      "Provider calls and cache hits by provider and outcome status",
		},
		[]string{"provider", "status"},
	)

	resolveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "streamresolve",
			Name:      "resolve_duration_seconds",
			Help:      "End-to-end time spent in Resolve",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)

func recordOutcome(providerName, status string) {
	resolutionsTotal.WithLabelValues(providerName, status).Inc()
}
