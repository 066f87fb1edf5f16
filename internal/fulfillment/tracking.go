package fulfillment

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TrackingRecord is the canonical tracking information for one shipment.
type TrackingRecord struct {
	Carrier        string    `json:"carrier"`
	TrackingNumber string    `json:"tracking_number"`
	ShipTime       time.Time `json:"ship_time"`
}

// TrackingString renders the record in the "<carrier>::<trackingNumber>" form
// stored on shipments.
func (r TrackingRecord) TrackingString() string {
	return r.Carrier + "::" + r.TrackingNumber
}

// Fields serialises the record into a flat map for logs and event payloads.
func (r TrackingRecord) Fields() map[string]any {
	return map[string]any{
		"carrier":         r.Carrier,
		"tracking_number": r.TrackingNumber,
		"ship_time":       r.ShipTime,
	}
}

// TrackingStatus classifies a tracking lookup.
type TrackingStatus int

const (
	// TrackingUnavailable means there is nothing to act on this cycle.
	TrackingUnavailable TrackingStatus = iota
	// TrackingComplete means carrier, number and ship time are all present.
	TrackingComplete
	// TrackingFailed marks an irrecoverable lookup: at least one field is absent.
	TrackingFailed
)

func (s TrackingStatus) String() string {
	switch s {
	case TrackingComplete:
		return "complete"
	case TrackingFailed:
		return "error"
	default:
		return "unavailable"
	}
}

// TrackingResult is the outcome of a tracking lookup. Record is only
// meaningful when Status is TrackingComplete.
type TrackingResult struct {
	Status TrackingStatus
	Record TrackingRecord
}

// TrackingResolver fetches tracking data for a shipment and normalises it.
type TrackingResolver struct {
	Registry *Registry
}

// Resolve queries the provider scoped to shipment. Provider errors are returned
// as-is; an unregistered adapter returns TrackingUnavailable together with an
// error wrapping ErrProviderUnavailable.
func (t TrackingResolver) Resolve(ctx context.Context, shipment Shipment) (TrackingResult, error) {
	if t.Registry == nil {
		return TrackingResult{}, fmt.Errorf("%w: registry not configured", ErrProviderUnavailable)
	}
	provider, err := t.Registry.GetProvider(ctx, &shipment)
	if err != nil {
		return TrackingResult{}, err
	}
	adapter, _ := t.Registry.Adapter()
	var data *TrackingData
	err = observeCall(ctx, adapter, "fetch_tracking_data", func(ctx context.Context) error {
		var callErr error
		data, callErr = provider.FetchTrackingData(ctx)
		return callErr
	})
	if err != nil {
		return TrackingResult{}, err
	}
	if data == nil {
		return TrackingResult{Status: TrackingUnavailable}, nil
	}
	return ClassifyTracking(data, shipment.Number), nil
}

// ClassifyTracking extracts the first carrier, tracking number and ship time
// recorded for number. Any absent field classifies the lookup as failed.
func ClassifyTracking(data *TrackingData, number string) TrackingResult {
	if data == nil {
		return TrackingResult{Status: TrackingUnavailable}
	}
	carrier := firstValue(data.TrackingCompanies, number)
	trackingNumber := firstValue(data.TrackingNumbers, number)
	shipTime, ok := parseShipTime(firstValue(data.ShippingDateTimes, number))
	if carrier == "" || trackingNumber == "" || !ok {
		return TrackingResult{Status: TrackingFailed}
	}
	return TrackingResult{
		Status: TrackingComplete,
		Record: TrackingRecord{
			Carrier:        carrier,
			TrackingNumber: trackingNumber,
			ShipTime:       shipTime,
		},
	}
}

func firstValue(values map[string][]string, key string) string {
	list := values[key]
	if len(list) == 0 {
		return ""
	}
	return strings.TrimSpace(list[0])
}

var shipTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseShipTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range shipTimeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
