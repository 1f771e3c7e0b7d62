package vm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowgate_vm_dispatch_total",
		Help: "Messages dispatched to vm endpoints by result",
	}, []string{"endpoint", "result"})

	ClaimCheckTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowgate_vm_claim_check_total",
		Help: "Message bodies moved to the payload store on dispatch",
	})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowgate_vm_deliveries_total",
		Help: "Receiver deliveries by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	DeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowgate_vm_delivery_duration_seconds",
		Help:    "Time spent delivering one message to its handler",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	ResponseTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowgate_vm_response_timeouts_total",
		Help: "Request-response sends that received no reply in time",
	})
)
