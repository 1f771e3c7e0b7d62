package processing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Processing metrics for Prometheus monitoring.
var (
	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_processing_admissions_total",
			Help: "Sink admissions by pipeline and outcome",
		},
		[]string{"pipeline", "outcome"}, // accepted, rejected
	)

	InFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowgate_processing_in_flight",
			Help: "Events currently executing per pipeline",
		},
		[]string{"pipeline"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowgate_processing_pipeline_duration_seconds",
			Help:    "Pipeline execution time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline", "outcome"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_processing_retries_total",
			Help: "Submissions retried after a capacity rejection",
		},
		[]string{"pipeline"},
	)
)
