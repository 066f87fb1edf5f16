package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-fulfillment/internal/resilience"
)

// HTTPFulfillment talks to a fulfillment house exposing the normalised JSON
// protocol: POST /fulfillments, POST /tracking and POST /stock_levels.
type HTTPFulfillment struct {
	BaseURL  string
	APIKey   string
	Client   resilience.HTTPClient
	Shipment *Shipment
}

// NewHTTPFactory returns the factory registered under the "http" adapter.
// Recognised options: base_url (required), api_key and timeout in seconds.
func NewHTTPFactory(client resilience.HTTPClient) Factory {
	return func(opts Options, shipment *Shipment) (Provider, error) {
		base := opts.String("base_url", "")
		if base == "" {
			return nil, errors.New("http fulfillment: base_url option is required")
		}
		parsed, err := url.Parse(base)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return nil, fmt.Errorf("http fulfillment: invalid base_url %q", base)
		}
		scoped := client
		if secs := opts.Int("timeout", 0); secs > 0 {
			scoped.Timeout = time.Duration(secs) * time.Second
		}
		return &HTTPFulfillment{
			BaseURL:  strings.TrimRight(base, "/"),
			APIKey:   opts.String("api_key", ""),
			Client:   scoped,
			Shipment: shipment,
		}, nil
	}
}

type fulfillRequest struct {
	ShipmentNumber string `json:"shipment_number"`
	OrderNumber    string `json:"order_number,omitempty"`
}

type trackingRequest struct {
	Numbers []string `json:"numbers"`
}

type stockRequest struct {
	SKUs []string `json:"skus"`
}

// Fulfill submits the scoped shipment.
func (h *HTTPFulfillment) Fulfill(ctx context.Context) (FulfillResult, error) {
	if h.Shipment == nil {
		return FulfillResult{}, errors.New("http fulfillment: shipment is required")
	}
	var result FulfillResult
	found, err := h.post(ctx, "/fulfillments", submissionKey(*h.Shipment), fulfillRequest{
		ShipmentNumber: h.Shipment.Number,
		OrderNumber:    h.Shipment.OrderNumber,
	}, &result)
	if err != nil {
		return FulfillResult{}, err
	}
	if !found {
		return FulfillResult{}, errors.New("http fulfillment: fulfillment endpoint not found")
	}
	return result, nil
}

// FetchTrackingData returns nil when the provider has no record of the shipment yet.
func (h *HTTPFulfillment) FetchTrackingData(ctx context.Context) (*TrackingData, error) {
	if h.Shipment == nil {
		return nil, errors.New("http fulfillment: shipment is required")
	}
	var envelope struct {
		Params TrackingData `json:"params"`
	}
	found, err := h.post(ctx, "/tracking", "", trackingRequest{Numbers: []string{h.Shipment.Number}}, &envelope)
	if err != nil || !found {
		return nil, err
	}
	return &envelope.Params, nil
}

// FetchStockLevels requests the levels of all skus in a single call.
func (h *HTTPFulfillment) FetchStockLevels(ctx context.Context, skus []string) (*StockLevels, error) {
	if skus == nil {
		skus = []string{}
	}
	var envelope struct {
		Params StockLevels `json:"params"`
	}
	found, err := h.post(ctx, "/stock_levels", "", stockRequest{SKUs: skus}, &envelope)
	if err != nil || !found {
		return nil, err
	}
	return &envelope.Params, nil
}

// submissionKey is stable per shipment so a retried submission whose first
// response was lost is deduplicated by the provider.
func submissionKey(shipment Shipment) string {
	if shipment.ID == uuid.Nil {
		return "shipment:" + shipment.Number
	}
	return "shipment:" + shipment.ID.String()
}

func (h *HTTPFulfillment) post(ctx context.Context, path, idempotencyKey string, body, out any) (bool, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "toko-fulfillment/1.0")
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}
	resp, err := h.Client.Do(ctx, req)
	if err != nil {
		return false, fmt.Errorf("http fulfillment %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, err
	}
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("http fulfillment %s: unexpected status %d: %s", path, resp.StatusCode, truncate(string(raw), 200))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("http fulfillment %s: decode response: %w", path, err)
	}
	return true, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RegisterBuiltins registers the adapters shipped with this module.
func RegisterBuiltins(r *Registry, client resilience.HTTPClient) {
	r.Register("mock", NewMockFactory())
	r.Register("http", NewHTTPFactory(client))
}
