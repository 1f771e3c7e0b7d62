package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics for Prometheus monitoring.
var (
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowgate_queue_depth",
			Help: "Number of committed items per queue",
		},
		[]string{"queue"},
	)

	QueueOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_queue_operations_total",
			Help: "Queue operations by queue and operation",
		},
		[]string{"queue", "op"}, // put, take, untake, clear, dispose
	)

	QueueOfferRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_queue_offer_rejected_total",
			Help: "Offers that timed out on a full queue",
		},
		[]string{"queue"},
	)

	SessionTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_queue_session_transactions_total",
			Help: "Queue session transactions by outcome",
		},
		[]string{"outcome"}, // committed, rolled_back
	)
)
