package fulfillment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a shipment.
type State string

const (
	StatePending    State = "pending"
	StateReady      State = "ready"
	StateFulfilling State = "fulfilling"
	StateShipped    State = "shipped"
	StateCanceled   State = "canceled"
)

// Shipment is the subset of a shipment record the pipeline reads and mutates.
type Shipment struct {
	ID          uuid.UUID
	Number      string
	OrderNumber string
	State       State
	Tracking    string
	ShippedAt   *time.Time
}

// Variant is a sellable SKU in the catalog.
type Variant struct {
	ID  uuid.UUID
	SKU string
}

// StockLocation is a named warehouse holding stock items.
type StockLocation struct {
	ID   uuid.UUID
	Name string
}

// DefaultStockLocation is the only location provider stock levels are applied to.
const DefaultStockLocation = "default"

// Stage names one of the reconciliation operations.
type Stage string

const (
	StageReady       Stage = "ready"
	StageFulfilling  Stage = "fulfilling"
	StageStockLevels Stage = "stock_levels"
)

// Stages returns every stage in pipeline order.
func Stages() []Stage {
	return []Stage{StageReady, StageFulfilling, StageStockLevels}
}

// ParseStage converts user input into a Stage.
func ParseStage(value string) (Stage, error) {
	normalised := strings.ToLower(strings.TrimSpace(value))
	normalised = strings.ReplaceAll(normalised, "-", "_")
	switch Stage(normalised) {
	case StageReady, StageFulfilling, StageStockLevels:
		return Stage(normalised), nil
	case "stock":
		return StageStockLevels, nil
	}
	return "", fmt.Errorf("unknown fulfillment stage %q", value)
}
