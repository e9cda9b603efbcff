package domain

// WebSocket message types, client → server.
const (
	MsgTypeWatchSelf  = "watch_self"  // subscribe to own status transitions
	MsgTypeWatchQueue = "watch_queue" // subscribe to queue-length updates
	MsgTypeHeartbeat  = "heartbeat"   // liveness ping, refreshes the lease
)

// WebSocket message types, server → client.
const (
	MsgTypeStatus       = "status"
	MsgTypeQueue        = "queue"
	MsgTypeHeartbeatAck = "heartbeat_ack"
	MsgTypeError        = "error"
)

// BaseMessage is the minimal envelope used to dispatch incoming messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// StatusMessage notifies a watcher that a participant's status changed.
// Payloads are hints only; clients re-derive truth from the snapshot
// endpoint, since delivery is best-effort and at-least-once.
type StatusMessage struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// QueueMessage notifies count-based watchers that the queue mutated.
type QueueMessage struct {
	Type        string `json:"type"`
	QueueLength int    `json:"queue_length"`
}

// ErrorMessage reports a protocol-level problem to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorMessage creates an error message.
func NewErrorMessage(msg string) *ErrorMessage {
	return &ErrorMessage{Type: MsgTypeError, Message: msg}
}
