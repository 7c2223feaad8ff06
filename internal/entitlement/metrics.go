package entitlement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poscore_entitlement_operations_total",
		Help: "Engine operations by outcome. Outcome is ok, a denial kind, or error.",
	}, []string{"operation", "outcome"})

	fraudFlagsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poscore_entitlement_fraud_flags_total",
		Help: "Suspicious-activity records written, by activity type.",
	}, []string{"activity_type"})
)

// observeOperation feeds the operation counter. Denials count under their
// kind so exhaustion and conflict rates are visible separately from real
// failures.
func observeOperation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if kind := KindOf(err); kind != "" {
			outcome = string(kind)
		}
	}
	operationsTotal.WithLabelValues(operation, outcome).Inc()
}

// observeFraudFlag feeds the fraud-flag counter.
func observeFraudFlag(activity ActivityType) {
	fraudFlagsTotal.WithLabelValues(string(activity)).Inc()
}
