package txn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TransactionsTotal counts coordinated transaction outcomes.
var TransactionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "flowgate_transactions_total",
		Help: "Coordinated transactions by outcome",
	},
	[]string{"outcome"}, // committed, rolled_back, prepare_failed, timed_out, heuristic
)
