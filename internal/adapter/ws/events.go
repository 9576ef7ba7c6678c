package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventAgentCreated = "agent.created"
	EventAgentStatus  = "agent.status"
	EventAgentDeleted = "agent.deleted"
	EventFleetScale   = "fleet.scale"
)

// AgentCreatedEvent is broadcast when a new agent joins the fleet.
type AgentCreatedEvent struct {
	AgentID string `json:"agent_id"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
}

// AgentStatusEvent is broadcast when an agent's status changes.
type AgentStatusEvent struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}

// AgentDeletedEvent is broadcast when an agent is removed from the fleet.
type AgentDeletedEvent struct {
	AgentID string `json:"agent_id"`
}

// FleetScaleEvent is broadcast when the autoscaler changes fleet size.
type FleetScaleEvent struct {
	Direction   string  `json:"direction"` // "up" or "down"
	Count       int     `json:"count"`
	Utilization float64 `json:"utilization"`
	Reason      string  `json:"reason"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
