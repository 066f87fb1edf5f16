package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-fulfillment/internal/events"
)

// EventStore persists domain events in the domain_events table.
type EventStore struct {
	DB DB
}

var _ events.EventStore = EventStore{}

// InsertDomainEvent stores the event and returns it with its generated ID and timestamp.
func (s EventStore) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	ev := events.Event{Topic: topic, AggregateID: aggregateID}
	err := s.DB.QueryRow(ctx, `INSERT INTO domain_events (topic, aggregate_id, payload)
VALUES ($1, $2, $3) RETURNING id, payload, occurred_at`, topic, aggregateID, payload).Scan(&ev.ID, &ev.Payload, &ev.OccurredAt)
	if err != nil {
		return events.Event{}, err
	}
	return ev, nil
}
