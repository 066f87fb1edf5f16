package fulfillment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrMissingAdapter is wrapped by ConfigError when no adapter is configured.
	ErrMissingAdapter = errors.New("fulfillment: adapter not configured")
	// ErrMissingDefaultLocation is wrapped by ConfigError when the default stock location does not exist.
	ErrMissingDefaultLocation = errors.New("fulfillment: default stock location not found")
	// ErrProviderUnavailable is returned when the configured adapter has no registered implementation.
	ErrProviderUnavailable = errors.New("fulfillment: provider unavailable")
	// ErrFulfillmentRejected is returned when a provider declines a shipment.
	ErrFulfillmentRejected = errors.New("fulfillment: provider rejected shipment")

	// ErrShipmentNotFound is returned by stores when a shipment no longer exists.
	ErrShipmentNotFound = errors.New("fulfillment: shipment not found")
	// ErrVariantNotFound is returned by stores when no variant carries the SKU.
	ErrVariantNotFound = errors.New("fulfillment: variant not found")
	// ErrStockLocationNotFound is returned by stores when the named location does not exist.
	ErrStockLocationNotFound = errors.New("fulfillment: stock location not found")
	// ErrStockItemNotFound is returned by stores when a variant has no stock item at a location.
	ErrStockItemNotFound = errors.New("fulfillment: stock item not found")
)

// ConfigError reports a fatal misconfiguration. Runs abort when they see one.
type ConfigError struct {
	Env   string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	if e.Env != "" {
		return fmt.Sprintf("fulfillment config (%s): %s: %v", e.Env, e.Field, e.Err)
	}
	return fmt.Sprintf("fulfillment config: %s: %v", e.Field, e.Err)
}

// Unwrap allows errors.Is to inspect the underlying error.
func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsConfigError reports whether err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// TransitionError is returned by stores when a guarded state transition fails.
type TransitionError struct {
	ShipmentID uuid.UUID
	From       State
	To         State
	Err        error
}

func (e *TransitionError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("shipment %s: transition %s -> %s failed", e.ShipmentID, e.From, e.To)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *TransitionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
