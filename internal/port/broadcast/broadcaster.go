// Package broadcast defines the port for broadcasting real-time fleet
// events to connected clients and external consumers.
package broadcast

import "context"

// Broadcaster sends a typed event to every connected consumer.
type Broadcaster interface {
	// BroadcastEvent sends a typed event. Implementations must not block
	// fleet operations; delivery failures stay internal.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Multi fans one event out to several broadcasters, e.g. the WebSocket
// hub and the NATS publisher at once.
type Multi []Broadcaster

// BroadcastEvent delivers the event to every member in order.
func (m Multi) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	for _, b := range m {
		b.BroadcastEvent(ctx, eventType, payload)
	}
}
