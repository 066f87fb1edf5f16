package notify

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-fulfillment/internal/events"
)

// LogNotifier writes every domain event to the structured log.
type LogNotifier struct {
	Logger zerolog.Logger
	// Topics limits logging to the listed topics when non-empty.
	Topics map[string]bool
}

// Notify implements the events.Notifier interface.
func (n LogNotifier) Notify(_ context.Context, event events.Event) error {
	if len(n.Topics) > 0 && !n.Topics[event.Topic] {
		return nil
	}
	evt := n.Logger.Info().
		Str("event_id", event.ID.String()).
		Str("topic", event.Topic).
		Str("aggregate_id", event.AggregateID.String()).
		Time("occurred_at", event.OccurredAt)
	if len(event.Payload) > 0 && json.Valid(event.Payload) {
		evt = evt.RawJSON("payload", event.Payload)
	}
	evt.Msg("domain_event")
	return nil
}
