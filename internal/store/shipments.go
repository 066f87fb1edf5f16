package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-fulfillment/internal/events"
	"github.com/noah-isme/toko-fulfillment/internal/fulfillment"
)

// ErrStaleState is wrapped in a TransitionError when the row no longer holds
// the expected source state.
var ErrStaleState = errors.New("store: shipment state changed concurrently")

// ErrInvalidTransition is wrapped in a TransitionError when the requested
// target is not reachable from the shipment's current state.
var ErrInvalidTransition = errors.New("store: transition not allowed")

// DB is the subset of pgxpool.Pool used by the stores.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// Shipments implements fulfillment.ShipmentStore on Postgres. Every transition
// is a guarded UPDATE so concurrent writers cannot move a shipment twice.
type Shipments struct {
	DB        DB
	Submitter fulfillment.Submitter
	Events    *events.Bus
	Logger    zerolog.Logger
}

var _ fulfillment.ShipmentStore = (*Shipments)(nil)

const shipmentColumns = `id, number, order_number, state, tracking, shipped_at`

// ListReadyShipmentIDs returns the IDs of all ready shipments, oldest first.
func (s *Shipments) ListReadyShipmentIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.DB.Query(ctx, `SELECT id FROM shipments WHERE state = $1 ORDER BY created_at, id`, string(fulfillment.StateReady))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindShipment loads a single shipment.
func (s *Shipments) FindShipment(ctx context.Context, id uuid.UUID) (fulfillment.Shipment, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id)
	shipment, err := scanShipment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return fulfillment.Shipment{}, fulfillment.ErrShipmentNotFound
	}
	return shipment, err
}

// ListFulfillingShipments returns all shipments awaiting tracking from the provider.
func (s *Shipments) ListFulfillingShipments(ctx context.Context) ([]fulfillment.Shipment, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE state = $1 ORDER BY created_at, id`, string(fulfillment.StateFulfilling))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fulfillment.Shipment
	for rows.Next() {
		shipment, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, shipment)
	}
	return out, rows.Err()
}

// TransitionToShipped fires the ship event. From ready the shipment is handed
// to the Submitter and moves to fulfilling; without a Submitter it ships
// directly. From fulfilling it moves to shipped.
func (s *Shipments) TransitionToShipped(ctx context.Context, shipment *fulfillment.Shipment) error {
	switch shipment.State {
	case fulfillment.StateReady:
		if s.Submitter == nil {
			return s.move(ctx, shipment, fulfillment.StateShipped, events.TopicShipmentShipped)
		}
		if err := s.Submitter.Fulfill(ctx, *shipment); err != nil {
			return &fulfillment.TransitionError{ShipmentID: shipment.ID, From: shipment.State, To: fulfillment.StateFulfilling, Err: err}
		}
		return s.move(ctx, shipment, fulfillment.StateFulfilling, events.TopicShipmentSubmitted)
	case fulfillment.StateFulfilling:
		return s.move(ctx, shipment, fulfillment.StateShipped, events.TopicShipmentShipped)
	default:
		return &fulfillment.TransitionError{ShipmentID: shipment.ID, From: shipment.State, To: fulfillment.StateShipped, Err: ErrInvalidTransition}
	}
}

// TransitionToCanceled cancels a shipment that has not shipped yet.
func (s *Shipments) TransitionToCanceled(ctx context.Context, shipment *fulfillment.Shipment) error {
	switch shipment.State {
	case fulfillment.StatePending, fulfillment.StateReady, fulfillment.StateFulfilling:
		return s.move(ctx, shipment, fulfillment.StateCanceled, events.TopicShipmentCanceled)
	default:
		return &fulfillment.TransitionError{ShipmentID: shipment.ID, From: shipment.State, To: fulfillment.StateCanceled, Err: ErrInvalidTransition}
	}
}

// SetTrackingFields assigns the ship time and "<carrier>::<number>" tracking
// string to shipment. Nothing is written here: the fields are persisted by the
// next TransitionToShipped in the same guarded UPDATE as the state change, so a
// shipment that fails to ship never carries tracking data.
func (s *Shipments) SetTrackingFields(_ context.Context, shipment *fulfillment.Shipment, shippedAt time.Time, tracking string) error {
	switch shipment.State {
	case fulfillment.StateShipped, fulfillment.StateCanceled:
		return &fulfillment.TransitionError{ShipmentID: shipment.ID, From: shipment.State, To: fulfillment.StateShipped, Err: ErrInvalidTransition}
	}
	shipment.Tracking = tracking
	at := shippedAt
	shipment.ShippedAt = &at
	return nil
}

func (s *Shipments) move(ctx context.Context, shipment *fulfillment.Shipment, to fulfillment.State, topic string) error {
	from := shipment.State
	var (
		tag pgconn.CommandTag
		err error
	)
	if to == fulfillment.StateShipped {
		tag, err = s.DB.Exec(ctx, `UPDATE shipments SET state = $3, tracking = $4, shipped_at = $5, updated_at = now() WHERE id = $1 AND state = $2`,
			shipment.ID, string(from), string(to), nullable(shipment.Tracking), shipment.ShippedAt)
	} else {
		tag, err = s.DB.Exec(ctx, `UPDATE shipments SET state = $3, updated_at = now() WHERE id = $1 AND state = $2`,
			shipment.ID, string(from), string(to))
	}
	if err != nil {
		return &fulfillment.TransitionError{ShipmentID: shipment.ID, From: from, To: to, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &fulfillment.TransitionError{ShipmentID: shipment.ID, From: from, To: to, Err: ErrStaleState}
	}
	shipment.State = to
	s.emit(ctx, topic, shipment.ID, map[string]any{
		"shipmentId":  shipment.ID.String(),
		"number":      shipment.Number,
		"orderNumber": shipment.OrderNumber,
		"from":        string(from),
		"to":          string(to),
		"tracking":    shipment.Tracking,
	})
	return nil
}

func (s *Shipments) emit(ctx context.Context, topic string, aggregate uuid.UUID, payload map[string]any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregate, payload); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Str("aggregate_id", aggregate.String()).Msg("emit event")
	}
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func scanShipment(row pgx.Row) (fulfillment.Shipment, error) {
	var (
		shipment  fulfillment.Shipment
		state     string
		tracking  *string
		shippedAt *time.Time
	)
	if err := row.Scan(&shipment.ID, &shipment.Number, &shipment.OrderNumber, &state, &tracking, &shippedAt); err != nil {
		return fulfillment.Shipment{}, err
	}
	shipment.State = fulfillment.State(state)
	if tracking != nil {
		shipment.Tracking = *tracking
	}
	shipment.ShippedAt = shippedAt
	return shipment, nil
}
