package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ShipmentStore is the order/shipment persistence the pipeline depends on.
// Transitions are guarded by the store and update shipment.State on success.
type ShipmentStore interface {
	ListReadyShipmentIDs(ctx context.Context) ([]uuid.UUID, error)
	FindShipment(ctx context.Context, id uuid.UUID) (Shipment, error)
	ListFulfillingShipments(ctx context.Context) ([]Shipment, error)
	TransitionToShipped(ctx context.Context, shipment *Shipment) error
	TransitionToCanceled(ctx context.Context, shipment *Shipment) error
	SetTrackingFields(ctx context.Context, shipment *Shipment, shippedAt time.Time, tracking string) error
}

// StockStore is the catalog and inventory persistence used for stock sync.
type StockStore interface {
	ListAllSKUs(ctx context.Context) ([]string, error)
	FindVariantBySKU(ctx context.Context, sku string) (Variant, error)
	FindStockLocationByName(ctx context.Context, name string) (StockLocation, error)
	SetOnHandCount(ctx context.Context, variant Variant, location StockLocation, count int) error
}

// Submitter hands a ready shipment to the fulfillment house. Registry implements it.
type Submitter interface {
	Fulfill(ctx context.Context, shipment Shipment) error
}

// ErrorReporter forwards failures to an external error tracker. Implementations
// must not block for long and never return errors to the caller.
type ErrorReporter interface {
	Notify(ctx context.Context, err error, fields map[string]string)
}
