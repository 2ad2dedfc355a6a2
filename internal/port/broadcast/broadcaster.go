// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Event types pushed to live clients.
const (
	EventTriggerOutcome = "trigger.outcome"
	EventProcessed      = "event.processed"
	EventToolChanged    = "tool.changed"
)

// Broadcaster sends real-time events to all connected clients. Delivery is
// best effort and never reports failure to the caller.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
