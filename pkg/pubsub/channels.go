package pubsub

// ChannelQueueEvents carries every queue state change. Local hubs fan the
// events out to their own WebSocket clients, so one channel is enough; the
// Kafka driver maps it to the "queue-events" topic keyed by user id.
const ChannelQueueEvents = "queue:events"

// Event types.
const (
	// EventStatusChanged fires when a participant's status transitions.
	EventStatusChanged = "status_changed"

	// EventQueueMutated fires on any insert or status change, for
	// count-based subscribers (host queue-length, fan position displays).
	EventQueueMutated = "queue_mutated"
)

// StatusChangedPayload describes a single status transition. OldStatus is
// empty for freshly created rows. Subscribers must treat this as a hint and
// re-derive truth by querying, since delivery is at-least-once.
type StatusChangedPayload struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// QueueMutatedPayload carries the queue length at publish time.
type QueueMutatedPayload struct {
	QueueLength int `json:"queue_length"`
}
