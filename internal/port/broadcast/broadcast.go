// Package broadcast defines the port for pushing runtime events to
// connected observers such as websocket dashboards.
package broadcast

import "context"

// Event types published over the broadcaster.
const (
	EventUnitState     = "unit_state"
	EventHandoffStatus = "handoff_status"
	EventAlert         = "alert_raised"
)

// UnitStateEvent is published when a unit's lifecycle state changes.
type UnitStateEvent struct {
	UnitID string `json:"unit_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// AlertEvent is published when the monitor raises an alert.
type AlertEvent struct {
	UnitID   string `json:"unit_id"`
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Broadcaster fans an event out to every connected observer. Implementations
// must not block the caller on slow consumers.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Nop discards all events.
type Nop struct{}

func (Nop) BroadcastEvent(context.Context, string, any) {}
