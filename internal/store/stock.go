package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-fulfillment/internal/events"
	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
)

// Stock implements fulfillment.StockStore on Postgres.
type Stock struct {
	DB     DB
	Events *events.Bus
	Logger zerolog.Logger
}

var _ fulfillment.StockStore = (*Stock)(nil)

// ListAllSKUs returns every non-empty SKU of live variants.
func (s *Stock) ListAllSKUs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT sku FROM variants WHERE deleted_at IS NULL AND sku <> '' ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var skus []string
	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			return nil, err
		}
		skus = append(skus, sku)
	}
	return skus, rows.Err()
}

// FindVariantBySKU returns the live variant carrying sku.
func (s *Stock) FindVariantBySKU(ctx context.Context, sku string) (fulfillment.Variant, error) {
	var v fulfillment.Variant
	err := s.DB.QueryRow(ctx, `SELECT id, sku FROM variants WHERE sku = $1 AND deleted_at IS NULL`, sku).Scan(&v.ID, &v.SKU)
	if errors.Is(err, pgx.ErrNoRows) {
		return fulfillment.Variant{}, fulfillment.ErrVariantNotFound
	}
	return v, err
}

// FindStockLocationByName returns the named stock location.
func (s *Stock) FindStockLocationByName(ctx context.Context, name string) (fulfillment.StockLocation, error) {
	var l fulfillment.StockLocation
	err := s.DB.QueryRow(ctx, `SELECT id, name FROM stock_locations WHERE name = $1`, name).Scan(&l.ID, &l.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return fulfillment.StockLocation{}, fulfillment.ErrStockLocationNotFound
	}
	return l, err
}

// SetOnHandCount overwrites the count on hand of the variant's stock item at location.
func (s *Stock) SetOnHandCount(ctx context.Context, variant fulfillment.Variant, location fulfillment.StockLocation, count int) error {
	tag, err := s.DB.Exec(ctx, `UPDATE stock_items SET count_on_hand = $3, updated_at = now() WHERE variant_id = $1 AND stock_location_id = $2`,
		variant.ID, location.ID, count)
	if err != nil {
		return fmt.Errorf("update stock item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fulfillment.ErrStockItemNotFound
	}
	if s.Events != nil {
		payload := map[string]any{
			"variantId":   variant.ID.String(),
			"sku":         variant.SKU,
			"location":    location.Name,
			"countOnHand": count,
		}
		if _, err := s.Events.Emit(ctx, events.TopicStockLevelSet, variant.ID, payload); err != nil {
			s.Logger.Warn().Err(err).Str("sku", variant.SKU).Msg("emit event")
		}
	}
	return nil
}
