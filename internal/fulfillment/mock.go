package fulfillment

import (
	"context"
	"errors"
	"time"
)

// MockFulfillment is a deterministic provider for development and demos. It
// accepts every shipment and reports tracking immediately.
type MockFulfillment struct {
	Carrier     string
	StockLevels map[string]int
	Shipment    *Shipment
	Now         func() time.Time
}

// NewMockFactory returns the factory registered under the "mock" adapter.
// Recognised options: carrier (default "MOCK") and stock_levels (sku: count).
func NewMockFactory() Factory {
	return func(opts Options, shipment *Shipment) (Provider, error) {
		levels := make(map[string]int)
		configured := opts.Map("stock_levels")
		for sku := range configured {
			levels[sku] = configured.Int(sku, 0)
		}
		return &MockFulfillment{
			Carrier:     opts.String("carrier", "MOCK"),
			StockLevels: levels,
			Shipment:    shipment,
		}, nil
	}
}

// Fulfill accepts the scoped shipment.
func (m *MockFulfillment) Fulfill(_ context.Context) (FulfillResult, error) {
	if m.Shipment == nil {
		return FulfillResult{}, errors.New("mock fulfillment: shipment is required")
	}
	return FulfillResult{Accepted: true, Reference: "MOCK-" + m.Shipment.Number}, nil
}

// FetchTrackingData reports the shipment number as tracking number, shipped now.
func (m *MockFulfillment) FetchTrackingData(_ context.Context) (*TrackingData, error) {
	if m.Shipment == nil {
		return nil, errors.New("mock fulfillment: shipment is required")
	}
	number := m.Shipment.Number
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	return &TrackingData{
		TrackingCompanies: map[string][]string{number: {m.Carrier}},
		TrackingNumbers:   map[string][]string{number: {number}},
		ShippingDateTimes: map[string][]string{number: {now().UTC().Format(time.RFC3339)}},
	}, nil
}

// FetchStockLevels returns the configured level of every requested SKU that has one.
func (m *MockFulfillment) FetchStockLevels(_ context.Context, skus []string) (*StockLevels, error) {
	out := &StockLevels{Levels: make(map[string]int)}
	for _, sku := range skus {
		if count, ok := m.StockLevels[sku]; ok {
			out.Levels[sku] = count
		}
	}
	return out, nil
}
