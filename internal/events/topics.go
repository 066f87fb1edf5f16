package events

// Topic constants for domain events emitted by the fulfillment pipeline.
const (
	TopicShipmentSubmitted = "shipment.submitted"
	TopicShipmentShipped   = "shipment.shipped"
	TopicShipmentCanceled  = "shipment.canceled"
	TopicStockLevelSet     = "stock.level_set"
)

// DefaultTopics returns the canonical list of topics.
func DefaultTopics() []string {
	return []string{
		TopicShipmentSubmitted,
		TopicShipmentShipped,
		TopicShipmentCanceled,
		TopicStockLevelSet,
	}
}
