package dlq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_dlq_messages_total",
			Help: "Total number of messages moved to the DLQ by endpoint",
		},
		[]string{"endpoint"},
	)

	ReprocessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_dlq_reprocessed_total",
			Help: "Total number of DLQ messages sent back to their endpoint",
		},
		[]string{"endpoint"},
	)
)
