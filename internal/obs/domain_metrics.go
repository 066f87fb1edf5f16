package obs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// FulfillmentItemsTotal counts per-item outcomes of fulfillment stage runs.
	FulfillmentItemsTotal *prometheus.CounterVec
	// FulfillmentRunDuration records stage run latency in milliseconds.
	FulfillmentRunDuration *prometheus.HistogramVec
	// FulfillmentRunsTotal counts stage runs by how they ended.
	FulfillmentRunsTotal *prometheus.CounterVec
	// ProviderCallsTotal counts calls made to the fulfillment provider.
	ProviderCallsTotal *prometheus.CounterVec
	// ProviderCallLatency records provider call latency in milliseconds.
	ProviderCallLatency *prometheus.HistogramVec
	// ErrorReportsTotal tracks error report deliveries.
	ErrorReportsTotal *prometheus.CounterVec
	// DBQueryDuration records Postgres statement latency in milliseconds.
	DBQueryDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers fulfillment Prometheus collectors.
// The Observe helpers are no-ops until this has been called.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		FulfillmentItemsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_items_total",
			Help:      "Count of fulfillment items processed by stage and result.",
		}, []string{"stage", "result"}))
		FulfillmentRunDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fulfillment_run_duration_ms",
			Help:      "Fulfillment stage run latency in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000},
		}, []string{"stage"}))
		FulfillmentRunsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_runs_total",
			Help:      "Count of fulfillment stage runs by status.",
		}, []string{"stage", "status"}))
		ProviderCallsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_provider_calls_total",
			Help:      "Count of fulfillment provider calls by adapter, operation and result.",
		}, []string{"adapter", "op", "result"}))
		ProviderCallLatency = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fulfillment_provider_call_duration_ms",
			Help:      "Latency of fulfillment provider calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"adapter", "op"}))
		ErrorReportsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_reports_total",
			Help:      "Count of error report deliveries by outcome.",
		}, []string{"result"}))
		DBQueryDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_ms",
			Help:      "Postgres statement latency in milliseconds by SQL verb.",
			Buckets:   []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"operation"}))
	})
}

// ObserveFulfillmentItem records a single item outcome.
func ObserveFulfillmentItem(stage, result string) {
	if FulfillmentItemsTotal == nil {
		return
	}
	FulfillmentItemsTotal.WithLabelValues(stage, result).Inc()
}

// ObserveFulfillmentRun records the latency of a finished stage run.
func ObserveFulfillmentRun(stage string, d time.Duration) {
	if FulfillmentRunDuration == nil {
		return
	}
	FulfillmentRunDuration.WithLabelValues(stage).Observe(DurationMillis(d))
}

// ObserveRunStatus records how a scheduled or manual run ended: ok, failed,
// aborted or locked.
func ObserveRunStatus(stage, status string) {
	if FulfillmentRunsTotal == nil {
		return
	}
	FulfillmentRunsTotal.WithLabelValues(stage, status).Inc()
}

// ObserveProviderCall records a provider call outcome and its latency.
func ObserveProviderCall(adapter, op, result string, d time.Duration) {
	if ProviderCallsTotal != nil {
		ProviderCallsTotal.WithLabelValues(adapter, op, result).Inc()
	}
	if ProviderCallLatency != nil {
		ProviderCallLatency.WithLabelValues(adapter, op).Observe(DurationMillis(d))
	}
}

// ObserveErrorReport records an error report delivery outcome.
func ObserveErrorReport(result string) {
	if ErrorReportsTotal == nil {
		return
	}
	ErrorReportsTotal.WithLabelValues(result).Inc()
}

// ObserveDBQuery records the latency of one Postgres statement.
func ObserveDBQuery(operation string, d time.Duration) {
	if DBQueryDuration == nil {
		return
	}
	DBQueryDuration.WithLabelValues(operation).Observe(DurationMillis(d))
}
