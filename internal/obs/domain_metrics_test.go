package obs_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-fulfillment/internal/obs"
)

func TestFulfillmentMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("toko", registry)

	obs.ObserveFulfillmentItem("ready", "submitted")
	obs.ObserveFulfillmentItem("ready", "submitted")
	obs.ObserveFulfillmentItem("ready", "failed")
	obs.ObserveFulfillmentRun("ready", 120*time.Millisecond)
	obs.ObserveProviderCall("mock_fulfillment", "fulfill", "success", 5*time.Millisecond)
	obs.ObserveRunStatus("ready", "ok")
	obs.ObserveErrorReport("sent")
	obs.ObserveDBQuery("UPDATE", 3*time.Millisecond)

	require.Equal(t, float64(2), testutil.ToFloat64(obs.FulfillmentItemsTotal.WithLabelValues("ready", "submitted")))
	require.Equal(t, float64(1), testutil.ToFloat64(obs.FulfillmentItemsTotal.WithLabelValues("ready", "failed")))
	require.Equal(t, float64(1), testutil.ToFloat64(obs.ProviderCallsTotal.WithLabelValues("mock_fulfillment", "fulfill", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(obs.FulfillmentRunsTotal.WithLabelValues("ready", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(obs.ErrorReportsTotal.WithLabelValues("sent")))
	require.Equal(t, 1, testutil.CollectAndCount(obs.FulfillmentRunDuration))
	require.Equal(t, 1, testutil.CollectAndCount(obs.ProviderCallLatency))
	require.Equal(t, 1, testutil.CollectAndCount(obs.DBQueryDuration))
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{1, 2.5, 10}, obs.ParseBucketsCSV("1, 2.5,,abc,-3,10"))
	require.Nil(t, obs.ParseBucketsCSV("  "))
}
