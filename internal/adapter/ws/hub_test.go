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

	"github.com/Strob0t/concierge/internal/middleware"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub()
	hub.BroadcastToTenant(context.Background(), "tenant-1", Message{
		Type:    "test",
		Payload: []byte(`{"key":"value"}`),
	})
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
	hub.remove(&conn{cancel: cancel, tenantID: "t1"})
}

func dial(t *testing.T, srv *httptest.Server, tenant string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"X-Tenant-ID": []string{tenant}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func waitForConns(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ConnectionCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, got %d", n, hub.ConnectionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubDeliversToOwnTenantOnly(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(middleware.TenantID(http.HandlerFunc(hub.HandleWS)))
	defer srv.Close()
	defer hub.Close()

	hotelA := dial(t, srv, "hotel-a")
	hotelB := dial(t, srv, "hotel-b")
	waitForConns(t, hub, 2)

	ctx := middleware.WithTenantID(context.Background(), "hotel-a")
	hub.BroadcastEvent(ctx, EventPlanStatus, PlanStatusEvent{
		PlanID:   "p1",
		Status:   "needs_confirmation",
		ActionID: "a1",
	})

	readCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := hotelA.Read(readCtx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != EventPlanStatus {
		t.Fatalf("type = %q", msg.Type)
	}
	var ev PlanStatusEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.PlanID != "p1" || ev.ActionID != "a1" {
		t.Fatalf("unexpected payload %+v", ev)
	}

	shortCtx, cancelShort := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancelShort()
	if _, _, err := hotelB.Read(shortCtx); err == nil {
		t.Fatal("hotel-b should not receive hotel-a events")
	}
}

func TestHubCloseDisconnects(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(middleware.TenantID(http.HandlerFunc(hub.HandleWS)))
	defer srv.Close()

	dial(t, srv, "hotel-a")
	waitForConns(t, hub, 1)

	hub.Close()
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections after Close, got %d", hub.ConnectionCount())
	}
}
