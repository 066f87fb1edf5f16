package fulfillment

import (
	"context"
	"strings"
)

// FulfillResult is the provider's answer to a fulfillment submission.
type FulfillResult struct {
	Accepted  bool   `json:"accepted"`
	Reference string `json:"reference,omitempty"`
	Message   string `json:"message,omitempty"`
}

// TrackingData is the normalised tracking response of a provider. Every map is
// keyed by shipment number and holds lists because providers batch by order.
type TrackingData struct {
	TrackingCompanies map[string][]string `json:"tracking_companies"`
	TrackingNumbers   map[string][]string `json:"tracking_numbers"`
	ShippingDateTimes map[string][]string `json:"shipping_date_times"`
}

// StockLevels maps SKU to the on-hand count reported by a provider.
type StockLevels struct {
	Levels map[string]int `json:"stock_levels"`
}

// Provider abstracts the operations required from an external fulfillment house.
// A nil response with a nil error means the provider had nothing to report.
type Provider interface {
	Fulfill(ctx context.Context) (FulfillResult, error)
	FetchTrackingData(ctx context.Context) (*TrackingData, error)
	FetchStockLevels(ctx context.Context, skus []string) (*StockLevels, error)
}

// Options carries provider specific settings from the fulfillment config file.
type Options map[string]any

// String returns the trimmed string value for key or fallback when absent.
func (o Options) String(key, fallback string) string {
	if o == nil {
		return fallback
	}
	v, ok := o[key]
	if !ok || v == nil {
		return fallback
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return fallback
	}
	return strings.TrimSpace(s)
}

// Int returns the integer value for key or fallback when absent or not numeric.
func (o Options) Int(key string, fallback int) int {
	if o == nil {
		return fallback
	}
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// Map returns a nested options block.
func (o Options) Map(key string) Options {
	if o == nil {
		return nil
	}
	switch v := o[key].(type) {
	case map[string]any:
		return Options(v)
	case Options:
		return v
	default:
		return nil
	}
}

// Factory constructs a provider scoped to an optional shipment.
type Factory func(opts Options, shipment *Shipment) (Provider, error)
