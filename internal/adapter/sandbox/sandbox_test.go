package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

func capability(t *testing.T, h *Hotel, d toolprovider.Domain) toolprovider.Capability {
	t.Helper()
	for _, c := range h.Capabilities() {
		if c.Domain() == d {
			return c
		}
	}
	t.Fatalf("no capability for %s", d)
	return nil
}

func exec(t *testing.T, c toolprovider.Capability, call toolprovider.Call) *toolprovider.Result {
	t.Helper()
	if call.TenantID == "" {
		call.TenantID = "hotel-a"
	}
	res, err := c.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("%s: %v", call.Tool, err)
	}
	return res
}

func TestCapabilitiesCoverAllDomains(t *testing.T) {
	h := NewHotel()
	seen := map[string]bool{}
	for _, c := range h.Capabilities() {
		if c.Provider() != ProviderName {
			t.Fatalf("provider = %q", c.Provider())
		}
		for _, spec := range c.Tools() {
			if seen[spec.Name] {
				t.Fatalf("tool %s served twice", spec.Name)
			}
			seen[spec.Name] = true
		}
	}
	for _, name := range []string{
		"check_room_availability", "book_room", "check_table_availability", "reserve_table",
		"list_reservations", "cancel_reservation", "list_events", "buy_tickets", "settle_payment",
	} {
		if !seen[name] {
			t.Errorf("tool %s not served", name)
		}
	}
}

func TestTableAvailabilityCarriesPrice(t *testing.T) {
	d := capability(t, NewHotel(), toolprovider.DomainDining)
	res := exec(t, d, toolprovider.Call{
		Tool: "check_table_availability",
		Args: map[string]any{"party_size": float64(2), "time": "19:00", "date": "tonight"},
	})
	if res.Data["unit_price_cents"] != int64(4500) {
		t.Fatalf("unit_price_cents = %v", res.Data["unit_price_cents"])
	}
	if !strings.Contains(res.Text, "table for 2") {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestReserveIdempotentByKey(t *testing.T) {
	h := NewHotel()
	d := capability(t, h, toolprovider.DomainDining)
	call := toolprovider.Call{
		Tool:           "reserve_table",
		Args:           map[string]any{"party_size": 2, "date": "tonight", "time": "19:00"},
		IdempotencyKey: "action-1",
	}

	first := exec(t, d, call)
	second := exec(t, d, call)
	if first.Data["receipt"] != second.Data["receipt"] {
		t.Fatalf("replay returned a different receipt: %v vs %v", first.Data["receipt"], second.Data["receipt"])
	}
	if n := len(h.Reservations("hotel-a")); n != 1 {
		t.Fatalf("expected 1 reservation, got %d", n)
	}

	call.IdempotencyKey = "action-2"
	exec(t, d, call)
	if n := len(h.Reservations("hotel-a")); n != 2 {
		t.Fatalf("expected 2 reservations, got %d", n)
	}
}

func TestReserveRejectsLargeParty(t *testing.T) {
	d := capability(t, NewHotel(), toolprovider.DomainDining)
	_, err := d.Execute(context.Background(), toolprovider.Call{
		Tool: "reserve_table", TenantID: "hotel-a", Args: map[string]any{"party_size": 40},
	})
	if !toolprovider.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestListAndCancelReservation(t *testing.T) {
	h := NewHotel()
	d := capability(t, h, toolprovider.DomainDining)
	exec(t, d, toolprovider.Call{Tool: "reserve_table", Args: map[string]any{"party_size": 4, "date": "today"}})

	list := exec(t, d, toolprovider.Call{Tool: "list_reservations", Args: map[string]any{"date": "today"}})
	id, _ := list.Data["reservation_id"].(string)
	if !strings.HasPrefix(id, "RSV-") {
		t.Fatalf("expected a reservation id, got %v", list.Data)
	}

	other := exec(t, d, toolprovider.Call{Tool: "list_reservations", TenantID: "hotel-b", Args: map[string]any{"date": "today"}})
	if other.Data != nil {
		t.Fatalf("hotel-b should not see hotel-a reservations: %v", other.Data)
	}

	exec(t, d, toolprovider.Call{Tool: "cancel_reservation", Args: map[string]any{"reservation_id": id}})
	if r := h.Reservations("hotel-a"); r[0].Status != "cancelled" {
		t.Fatalf("status = %q", r[0].Status)
	}

	_, err := d.Execute(context.Background(), toolprovider.Call{
		Tool: "cancel_reservation", TenantID: "hotel-a", Args: map[string]any{"reservation_id": id},
	})
	if !toolprovider.IsPermanent(err) {
		t.Fatalf("second cancel should fail permanently, got %v", err)
	}
}

func TestBookRoomUntilSoldOut(t *testing.T) {
	h := NewHotel()
	r := capability(t, h, toolprovider.DomainRooms)

	res := exec(t, r, toolprovider.Call{Tool: "check_room_availability", Args: map[string]any{"room_type": "suite", "nights": 2}})
	if res.Data["unit_price_cents"] != int64(32000) {
		t.Fatalf("suite rate = %v", res.Data["unit_price_cents"])
	}
	exec(t, r, toolprovider.Call{Tool: "book_room", Args: map[string]any{"room_type": "suite", "nights": 2}})

	res = exec(t, r, toolprovider.Call{Tool: "check_room_availability", Args: map[string]any{"room_type": "suite"}})
	if res.Data["available"] != false {
		t.Fatalf("expected suite sold out, got %v", res.Data)
	}
	_, err := r.Execute(context.Background(), toolprovider.Call{
		Tool: "book_room", TenantID: "hotel-a", Args: map[string]any{"room_type": "suite"},
	})
	if !toolprovider.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestBuyTickets(t *testing.T) {
	e := capability(t, NewHotel(), toolprovider.DomainEvents)

	list := exec(t, e, toolprovider.Call{Tool: "list_events"})
	if list.Data["event_id"] != "evt-jazz" {
		t.Fatalf("candidate = %v", list.Data["event_id"])
	}
	if !strings.Contains(list.Text, "sold out") {
		t.Fatalf("expected sold out event in %q", list.Text)
	}

	res := exec(t, e, toolprovider.Call{Tool: "buy_tickets", Args: map[string]any{"event_id": "evt-jazz", "quantity": 2}})
	if !strings.HasPrefix(res.Data["receipt"].(string), "TKT-") {
		t.Fatalf("receipt = %v", res.Data["receipt"])
	}

	_, err := e.Execute(context.Background(), toolprovider.Call{
		Tool: "buy_tickets", TenantID: "hotel-a", Args: map[string]any{"event_id": "evt-brunch"},
	})
	if !toolprovider.IsPermanent(err) || !strings.Contains(err.Error(), "sold out") {
		t.Fatalf("expected sold out, got %v", err)
	}
}

func TestSettlePaymentOncePerPayment(t *testing.T) {
	h := NewHotel()
	c := capability(t, h, toolprovider.DomainCommerce)

	args := map[string]any{"quote_id": "q1", "payment_id": "pay_1"}
	first := exec(t, c, toolprovider.Call{Tool: "settle_payment", Args: args, IdempotencyKey: "job-1"})
	second := exec(t, c, toolprovider.Call{Tool: "settle_payment", Args: args, IdempotencyKey: "job-2"})
	if first.Data["receipt"] != second.Data["receipt"] {
		t.Fatal("same payment settled twice with different receipts")
	}
	if h.Settlements() != 1 {
		t.Fatalf("settlements = %d", h.Settlements())
	}

	_, err := c.Execute(context.Background(), toolprovider.Call{Tool: "settle_payment", TenantID: "hotel-a"})
	if !toolprovider.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestUnknownTool(t *testing.T) {
	c := capability(t, NewHotel(), toolprovider.DomainRooms)
	_, err := c.Execute(context.Background(), toolprovider.Call{Tool: "fly_to_moon"})
	if !errors.Is(err, toolprovider.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestArgInt(t *testing.T) {
	tests := []struct {
		in      any
		want    int
		wantErr bool
	}{
		{2, 2, false},
		{float64(3), 3, false},
		{"4", 4, false},
		{2.5, 0, true},
		{"two", 0, true},
		{nil, 7, false},
	}
	for _, tt := range tests {
		got, err := argInt(map[string]any{"n": tt.in}, "n", 7)
		if (err != nil) != tt.wantErr || (!tt.wantErr && got != tt.want) {
			t.Errorf("argInt(%v) = %d, %v", tt.in, got, err)
		}
	}
}
