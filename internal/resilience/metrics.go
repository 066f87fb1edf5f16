package resilience

import "github.com/prometheus/client_golang/prometheus"

// Breaker collectors, registered on the default registry. State values follow
// the State constants: 0 closed, 1 open, 2 half-open.
var (
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "toko",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Current breaker state per target: 0=closed, 1=open, 2=half-open.",
	}, []string{"target"})
	BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toko",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Breaker state transitions per target.",
	}, []string{"target", "from", "to"})
	BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toko",
		Subsystem: "breaker",
		Name:      "opened_total",
		Help:      "Times a breaker tripped open per target.",
	}, []string{"target"})
	HTTPAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "toko",
		Subsystem: "outbound",
		Name:      "http_attempts_total",
		Help:      "Outbound HTTP attempts per target and outcome.",
	}, []string{"target", "outcome"})
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal, HTTPAttemptsTotal)
}
