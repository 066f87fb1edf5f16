package fulfillment_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
)

type memShipments struct {
	mu        sync.Mutex
	order     []uuid.UUID
	byID      map[uuid.UUID]*fulfillment.Shipment
	shipErr   map[uuid.UUID]error
	shipCalls []uuid.UUID
	trackSets int
	listPanic bool
}

func newMemShipments(shipments ...fulfillment.Shipment) *memShipments {
	m := &memShipments{byID: map[uuid.UUID]*fulfillment.Shipment{}, shipErr: map[uuid.UUID]error{}}
	for i := range shipments {
		s := shipments[i]
		m.order = append(m.order, s.ID)
		m.byID[s.ID] = &s
	}
	return m
}

func (m *memShipments) get(id uuid.UUID) fulfillment.Shipment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byID[id]
}

func (m *memShipments) ListReadyShipmentIDs(context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, id := range m.order {
		if m.byID[id].State == fulfillment.StateReady {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memShipments) FindShipment(_ context.Context, id uuid.UUID) (fulfillment.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return fulfillment.Shipment{}, fulfillment.ErrShipmentNotFound
	}
	return *s, nil
}

func (m *memShipments) ListFulfillingShipments(context.Context) ([]fulfillment.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []fulfillment.Shipment
	for _, id := range m.order {
		if s := m.byID[id]; s.State == fulfillment.StateFulfilling || s.State == fulfillment.StateShipped {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memShipments) TransitionToShipped(_ context.Context, shipment *fulfillment.Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shipCalls = append(m.shipCalls, shipment.ID)
	if err := m.shipErr[shipment.ID]; err != nil {
		return &fulfillment.TransitionError{ShipmentID: shipment.ID, From: shipment.State, To: fulfillment.StateShipped, Err: err}
	}
	stored := m.byID[shipment.ID]
	if stored.State == fulfillment.StateShipped || stored.State == fulfillment.StateCanceled {
		return &fulfillment.TransitionError{ShipmentID: shipment.ID, From: stored.State, To: fulfillment.StateShipped}
	}
	stored.State = fulfillment.StateShipped
	stored.Tracking = shipment.Tracking
	stored.ShippedAt = shipment.ShippedAt
	shipment.State = stored.State
	return nil
}

func (m *memShipments) TransitionToCanceled(_ context.Context, shipment *fulfillment.Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.byID[shipment.ID]
	stored.State = fulfillment.StateCanceled
	shipment.State = stored.State
	return nil
}

func (m *memShipments) SetTrackingFields(_ context.Context, shipment *fulfillment.Shipment, shippedAt time.Time, tracking string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackSets++
	shipment.Tracking = tracking
	shipment.ShippedAt = &shippedAt
	return nil
}

type memStock struct {
	mu        sync.Mutex
	variants  map[string]fulfillment.Variant
	locations map[string]fulfillment.StockLocation
	counts    map[string]int
	missing   map[string]bool
}

func newMemStock(skus ...string) *memStock {
	s := &memStock{
		variants:  map[string]fulfillment.Variant{},
		locations: map[string]fulfillment.StockLocation{fulfillment.DefaultStockLocation: {ID: uuid.New(), Name: fulfillment.DefaultStockLocation}},
		counts:    map[string]int{},
		missing:   map[string]bool{},
	}
	for _, sku := range skus {
		s.variants[sku] = fulfillment.Variant{ID: uuid.New(), SKU: sku}
	}
	return s
}

func (s *memStock) ListAllSKUs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.variants))
	for sku := range s.variants {
		out = append(out, sku)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memStock) FindVariantBySKU(_ context.Context, sku string) (fulfillment.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[sku]
	if !ok {
		return fulfillment.Variant{}, fulfillment.ErrVariantNotFound
	}
	return v, nil
}

func (s *memStock) FindStockLocationByName(_ context.Context, name string) (fulfillment.StockLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locations[name]
	if !ok {
		return fulfillment.StockLocation{}, fulfillment.ErrStockLocationNotFound
	}
	return l, nil
}

func (s *memStock) SetOnHandCount(_ context.Context, variant fulfillment.Variant, _ fulfillment.StockLocation, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.missing[variant.SKU] {
		return fulfillment.ErrStockItemNotFound
	}
	s.counts[variant.SKU] = count
	return nil
}

type fakeProvider struct {
	mu          sync.Mutex
	tracking    map[string]*fulfillment.TrackingData
	trackingErr map[string]error
	panicOn     map[string]bool
	levels      *fulfillment.StockLevels
	levelsErr   error
	stockCalls  int
	stockSKUs   [][]string
	fulfilled   []string
	reject      bool
}

func (f *fakeProvider) factory() fulfillment.Factory {
	return func(_ fulfillment.Options, shipment *fulfillment.Shipment) (fulfillment.Provider, error) {
		return &scopedProvider{fake: f, shipment: shipment}, nil
	}
}

type scopedProvider struct {
	fake     *fakeProvider
	shipment *fulfillment.Shipment
}

func (p *scopedProvider) Fulfill(context.Context) (fulfillment.FulfillResult, error) {
	p.fake.mu.Lock()
	defer p.fake.mu.Unlock()
	p.fake.fulfilled = append(p.fake.fulfilled, p.shipment.Number)
	if p.fake.reject {
		return fulfillment.FulfillResult{Accepted: false, Message: "out of stock"}, nil
	}
	return fulfillment.FulfillResult{Accepted: true, Reference: "REF-" + p.shipment.Number}, nil
}

func (p *scopedProvider) FetchTrackingData(context.Context) (*fulfillment.TrackingData, error) {
	p.fake.mu.Lock()
	defer p.fake.mu.Unlock()
	number := p.shipment.Number
	if p.fake.panicOn[number] {
		panic("provider exploded")
	}
	if err := p.fake.trackingErr[number]; err != nil {
		return nil, err
	}
	return p.fake.tracking[number], nil
}

func (p *scopedProvider) FetchStockLevels(_ context.Context, skus []string) (*fulfillment.StockLevels, error) {
	p.fake.mu.Lock()
	defer p.fake.mu.Unlock()
	p.fake.stockCalls++
	p.fake.stockSKUs = append(p.fake.stockSKUs, skus)
	return p.fake.levels, p.fake.levelsErr
}

type recordingReporter struct {
	mu     sync.Mutex
	errs   []error
	fields []map[string]string
}

func (r *recordingReporter) Notify(_ context.Context, err error, fields map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.fields = append(r.fields, fields)
}

type panickyReporter struct{}

func (panickyReporter) Notify(context.Context, error, map[string]string) {
	panic(errors.New("reporter down"))
}

func newRegistry(adapter string, fake *fakeProvider) *fulfillment.Registry {
	reg := fulfillment.NewRegistry(fulfillment.ProviderConfig{Env: "test", Adapter: adapter}, zerolog.Nop())
	if fake != nil {
		reg.Register("fake", fake.factory())
	}
	return reg
}

func completeTracking(number, carrier, tracking, shipped string) *fulfillment.TrackingData {
	return &fulfillment.TrackingData{
		TrackingCompanies: map[string][]string{number: {carrier}},
		TrackingNumbers:   map[string][]string{number: {tracking}},
		ShippingDateTimes: map[string][]string{number: {shipped}},
	}
}

func fixedNow() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}
