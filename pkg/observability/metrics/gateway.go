package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutcomeOK labels a gateway operation that returned no error.
const OutcomeOK = "ok"

var (
	// gatewayOperationsTotal counts gateway calls.
	// Labels: operation, outcome (ok or failure kind)
	gatewayOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transfers",
			Subsystem: "gateway",
			Name:      "operations_total",
			Help:      "Total number of persistence gateway operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	// gatewayOperationDuration tracks gateway call latency in seconds.
	gatewayOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "transfers",
			Subsystem: "gateway",
			Name:      "operation_duration_seconds",
			Help:      "Persistence gateway operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// gatewayTransactionsInFlight is the number of open write transactions.
	gatewayTransactionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "transfers",
			Subsystem: "gateway",
			Name:      "transactions_in_flight",
			Help:      "Current number of open write transactions",
		},
	)
)

// RecordGatewayOperation records one finished gateway call.
func RecordGatewayOperation(operation, outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = OutcomeOK
	}
	gatewayOperationsTotal.WithLabelValues(operation, outcome).Inc()
	gatewayOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// TransactionStarted increments the open transaction gauge.
func TransactionStarted() {
	gatewayTransactionsInFlight.Inc()
}

// TransactionFinished decrements the open transaction gauge.
func TransactionFinished() {
	gatewayTransactionsInFlight.Dec()
}
