package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/toolgate/internal/port/broadcast"
)

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub()
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
	hub.BroadcastEvent(context.Background(), broadcast.EventToolChanged, ToolChangedEvent{Name: "x"})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub()
	// A channel cannot be marshaled to JSON; this must log, not panic.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestHubRemoveNonexistent(t *testing.T) {
	hub := NewHub()
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.remove(&conn{cancel: cancel, userID: "u1"})
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func waitConnections(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("connections = %d, want %d", hub.ConnectionCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, c *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestHubScopesMessagesByUser(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	alice := dial(t, srv, "?user_id=alice")
	bob := dial(t, srv, "?user_id=bob")
	ops := dial(t, srv, "")
	waitConnections(t, hub, 3)

	ctx := context.Background()
	hub.BroadcastEvent(ctx, broadcast.EventTriggerOutcome, map[string]any{"user_id": "alice", "tool_name": "ship"})
	hub.BroadcastEvent(ctx, broadcast.EventToolChanged, ToolChangedEvent{Name: "ship"})

	// Alice and the unscoped stream see both; Bob only sees the global one.
	for name, c := range map[string]*websocket.Conn{"alice": alice, "ops": ops} {
		if got := readMessage(t, c).Type; got != broadcast.EventTriggerOutcome {
			t.Errorf("%s first message = %s", name, got)
		}
		if got := readMessage(t, c).Type; got != broadcast.EventToolChanged {
			t.Errorf("%s second message = %s", name, got)
		}
	}
	msg := readMessage(t, bob)
	if msg.Type != broadcast.EventToolChanged {
		t.Errorf("bob received %s, want only %s", msg.Type, broadcast.EventToolChanged)
	}
	var payload ToolChangedEvent
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Name != "ship" {
		t.Errorf("payload = %s, %v", msg.Payload, err)
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	c := dial(t, srv, "")
	waitConnections(t, hub, 1)

	hub.Close()
	if hub.ConnectionCount() != 0 {
		t.Fatalf("connections after Close = %d", hub.ConnectionCount())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := c.Read(ctx); err == nil {
		t.Error("expected read error after hub Close")
	}
}
