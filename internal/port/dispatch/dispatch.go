// Package dispatch defines the outbound delivery port used by the
// coordination engine to hand payloads to receiver units.
package dispatch

import "context"

// Delivery is one attempt to hand a payload to a receiver.
type Delivery struct {
	ProtocolID  string         `json:"protocol_id"`
	SenderID    string         `json:"sender_id"`
	ReceiverID  string         `json:"receiver_id"`
	RequiresAck bool           `json:"requires_ack"`
	Payload     map[string]any `json:"payload"`
}

// Ack is a receiver's response to an ack-required delivery.
type Ack struct {
	ProtocolID string `json:"protocol_id"`
	OK         bool   `json:"ok"`
	Reason     string `json:"reason,omitempty"`
}

// Dispatcher sends deliveries toward receivers. Implementations may be
// in-process or backed by a message broker; acknowledgments flow back
// asynchronously through an AckSink.
type Dispatcher interface {
	Dispatch(ctx context.Context, d Delivery) error
}

// AckSink accepts acknowledgments from receivers. Returns false when no
// in-flight delivery matches the protocol ID.
type AckSink interface {
	Ack(a Ack) bool
}
