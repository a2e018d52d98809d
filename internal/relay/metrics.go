package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contactcard",
			Subsystem: "relay",
			Name:      "requests_total",
			Help:      "Relayed requests by credential mode and response status.",
		},
		[]string{"mode", "status"},
	)

	upstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "contactcard",
			Subsystem: "relay",
			Name:      "upstream_duration_seconds",
			Help:      "Time spent waiting for the model provider.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 90},
		},
	)
)
