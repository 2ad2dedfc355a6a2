package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// ToolChangedEvent is broadcast when a tool definition is registered,
// replaced or removed.
type ToolChangedEvent struct {
	Name    string `json:"name"`
	Removed bool   `json:"removed"`
}

// audience picks the user a payload is addressed to from its user_id field.
type audience struct {
	UserID string `json:"user_id"`
}

// BroadcastEvent marshals payload and sends it to the clients allowed to
// see it. Payloads carrying a user_id only reach that user's streams.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	var to audience
	_ = json.Unmarshal(data, &to)

	h.Broadcast(ctx, to.UserID, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
