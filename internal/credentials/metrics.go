package credentials

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Credential metrics for Prometheus monitoring.
var (
	TokenRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_credentials_token_requests_total",
			Help: "Token requests by how they were served",
		},
		[]string{"result"}, // cached, waited, refreshed
	)

	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_credentials_refreshes_total",
			Help: "Token refreshes by outcome",
		},
		[]string{"outcome"},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowgate_credentials_refresh_duration_seconds",
			Help:    "Token endpoint round-trip time",
			Buckets: prometheus.DefBuckets,
		},
	)
)
