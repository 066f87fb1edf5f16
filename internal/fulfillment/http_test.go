package fulfillment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
	"github.com/noah-isme/toko-fulfillment/internal/resilience"
)

func newHouse(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/fulfillments", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": true, "reference": "REF-" + body["shipment_number"]})
	})
	mux.HandleFunc("/tracking", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Numbers []string `json:"numbers"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		number := body.Numbers[0]
		if number == "UNKNOWN" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"params": map[string]any{
			"tracking_companies":  map[string][]string{number: {"UPS"}},
			"tracking_numbers":    map[string][]string{number: {"1Z" + number}},
			"shipping_date_times": map[string][]string{number: {"2024-01-01T00:00:00Z"}},
		}})
	})
	mux.HandleFunc("/stock_levels", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SKUs []string `json:"skus"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		levels := map[string]int{}
		for i, sku := range body.SKUs {
			levels[sku] = i * 10
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"params": map[string]any{"stock_levels": levels}})
	})
	mux.HandleFunc("/broken/fulfillments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid address"}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newHTTPRegistry(server *httptest.Server, base string) *fulfillment.Registry {
	reg := fulfillment.NewRegistry(fulfillment.ProviderConfig{
		Adapter: "http",
		Options: fulfillment.Options{"base_url": base, "api_key": "secret"},
	}, zerolog.Nop())
	fulfillment.RegisterBuiltins(reg, resilience.HTTPClient{
		Client:      server.Client(),
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
	})
	return reg
}

func TestHTTPFulfillmentRoundTrip(t *testing.T) {
	server := newHouse(t)
	reg := newHTTPRegistry(server, server.URL+"/")
	ctx := context.Background()
	shipment := fulfillment.Shipment{ID: uuid.New(), Number: "H1", OrderNumber: "R1"}

	require.NoError(t, reg.Fulfill(ctx, shipment))

	result, err := fulfillment.TrackingResolver{Registry: reg}.Resolve(ctx, shipment)
	require.NoError(t, err)
	require.Equal(t, fulfillment.TrackingComplete, result.Status)
	require.Equal(t, "UPS::1ZH1", result.Record.TrackingString())

	result, err = fulfillment.TrackingResolver{Registry: reg}.Resolve(ctx, fulfillment.Shipment{Number: "UNKNOWN"})
	require.NoError(t, err)
	require.Equal(t, fulfillment.TrackingUnavailable, result.Status)

	provider, err := reg.GetProvider(ctx, nil)
	require.NoError(t, err)
	levels, err := provider.FetchStockLevels(ctx, []string{"A", "B"})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"A": 0, "B": 10}, levels.Levels)
}

func TestHTTPFulfillmentRetriedSubmissionKeepsIdempotencyKey(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("X-Idempotency-Key"))
		first := len(keys) == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": true, "reference": "REF-1"})
	}))
	t.Cleanup(server.Close)

	shipment := fulfillment.Shipment{ID: uuid.New(), Number: "H1"}
	require.NoError(t, newHTTPRegistry(server, server.URL).Fulfill(context.Background(), shipment))

	mu.Lock()
	defer mu.Unlock()
	want := "shipment:" + shipment.ID.String()
	require.Equal(t, []string{want, want}, keys)
}

func TestHTTPFulfillmentErrors(t *testing.T) {
	server := newHouse(t)
	ctx := context.Background()

	err := newHTTPRegistry(server, server.URL+"/broken").Fulfill(ctx, fulfillment.Shipment{Number: "H1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "422")
	require.Contains(t, err.Error(), "invalid address")

	_, err = newHTTPRegistry(server, "").GetProvider(ctx, nil)
	require.ErrorContains(t, err, "base_url")

	_, err = newHTTPRegistry(server, "ftp://house").GetProvider(ctx, nil)
	require.ErrorContains(t, err, "invalid base_url")

	provider, err := newHTTPRegistry(server, server.URL).GetProvider(ctx, nil)
	require.NoError(t, err)
	_, err = provider.FetchTrackingData(ctx)
	require.ErrorContains(t, err, "shipment is required")
}

func TestMockFulfillment(t *testing.T) {
	reg := fulfillment.NewRegistry(fulfillment.ProviderConfig{
		Adapter: "mock",
		Options: fulfillment.Options{"stock_levels": map[string]any{"A": 4, "B": 9}},
	}, zerolog.Nop())
	fulfillment.RegisterBuiltins(reg, resilience.HTTPClient{Client: http.DefaultClient})
	ctx := context.Background()
	shipment := fulfillment.Shipment{ID: uuid.New(), Number: "H7"}

	require.NoError(t, reg.Fulfill(ctx, shipment))
	result, err := fulfillment.TrackingResolver{Registry: reg}.Resolve(ctx, shipment)
	require.NoError(t, err)
	require.Equal(t, fulfillment.TrackingComplete, result.Status)
	require.Equal(t, "MOCK::H7", result.Record.TrackingString())

	provider, err := reg.GetProvider(ctx, nil)
	require.NoError(t, err)
	levels, err := provider.FetchStockLevels(ctx, []string{"A", "C"})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"A": 4}, levels.Levels)
	require.Equal(t, []string{"http_fulfillment", "mock_fulfillment"}, reg.Adapters())
}
