package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

// Dining serves restaurant tables and the staff reservation list.
type Dining struct{ h *Hotel }

func (d *Dining) Provider() string            { return ProviderName }
func (d *Dining) Domain() toolprovider.Domain { return toolprovider.DomainDining }

func (d *Dining) Tools() []toolprovider.ToolSpec {
	return []toolprovider.ToolSpec{
		{Name: "check_table_availability", Description: "Check restaurant table availability", Params: []string{"date", "time", "party_size"}},
		{Name: "reserve_table", Description: "Reserve a restaurant table", Params: []string{"date", "time", "party_size"}},
		{Name: "list_reservations", Description: "List reservations for a date", Params: []string{"date"}},
		{Name: "cancel_reservation", Description: "Cancel a reservation", Params: []string{"reservation_id"}},
	}
}

func (d *Dining) Execute(ctx context.Context, call toolprovider.Call) (*toolprovider.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch call.Tool {
	case "check_table_availability":
		return d.check(call)
	case "reserve_table":
		return d.h.write(call, func() (*toolprovider.Result, error) { return d.reserve(call) })
	case "list_reservations":
		return d.list(call)
	case "cancel_reservation":
		return d.h.write(call, func() (*toolprovider.Result, error) { return d.cancel(call) })
	}
	return nil, fmt.Errorf("%s: %w", call.Tool, toolprovider.ErrToolNotFound)
}

type slot struct {
	date  string
	time  string
	party int
}

func (d *Dining) slot(call toolprovider.Call) (slot, error) {
	party, err := argInt(call.Args, "party_size", 2)
	if err != nil {
		return slot{}, invalid(call.Tool, "%v", err)
	}
	if party < 1 || party > d.h.maxParty {
		return slot{}, invalid(call.Tool, "parties must be between 1 and %d guests", d.h.maxParty)
	}
	return slot{
		date:  argString(call.Args, "date", "today"),
		time:  argString(call.Args, "time", "19:00"),
		party: party,
	}, nil
}

func (d *Dining) left(s slot) int {
	key := s.date + " " + s.time
	if n, ok := d.h.coversLeft[key]; ok {
		return n
	}
	return d.h.coversPerSlot
}

func (d *Dining) check(call toolprovider.Call) (*toolprovider.Result, error) {
	d.h.mu.Lock()
	defer d.h.mu.Unlock()

	s, err := d.slot(call)
	if err != nil {
		return nil, err
	}
	if d.left(s) < s.party {
		return &toolprovider.Result{
			Text: fmt.Sprintf("No table for %d is available %s at %s.", s.party, s.date, s.time),
			Data: map[string]any{"available": false},
		}, nil
	}
	return &toolprovider.Result{
		Text: fmt.Sprintf("A table for %d is available %s at %s. The cover charge is %s per guest.", s.party, s.date, s.time, dollars(d.h.coverCents)),
		Data: map[string]any{
			"available":        true,
			"unit_price_cents": d.h.coverCents,
			"quantity":         s.party,
			"description":      "Dinner cover",
		},
	}, nil
}

// reserve runs under the hotel lock.
func (d *Dining) reserve(call toolprovider.Call) (*toolprovider.Result, error) {
	s, err := d.slot(call)
	if err != nil {
		return nil, err
	}
	left := d.left(s)
	if left < s.party {
		return nil, invalid(call.Tool, "the restaurant is fully booked %s at %s", s.date, s.time)
	}
	d.h.coversLeft[s.date+" "+s.time] = left - s.party

	res := &Reservation{
		TenantID: call.TenantID, Kind: "table", Date: s.date, Time: s.time,
		Detail: fmt.Sprintf("table for %d", s.party), Quantity: s.party,
	}
	d.h.addReservation(res)
	return &toolprovider.Result{
		Text: fmt.Sprintf("Reserved a table for %d %s at %s.", s.party, s.date, s.time),
		Data: map[string]any{"reservation_id": res.ID, "receipt": res.ID},
	}, nil
}

func (d *Dining) list(call toolprovider.Call) (*toolprovider.Result, error) {
	d.h.mu.Lock()
	defer d.h.mu.Unlock()

	date := argString(call.Args, "date", "today")
	var lines []string
	var first string
	for _, r := range d.h.reservations {
		if r.TenantID != call.TenantID || r.Date != date || r.Status != "confirmed" {
			continue
		}
		if first == "" {
			first = r.ID
		}
		line := fmt.Sprintf("%s: %s %s", r.ID, r.Kind, r.Detail)
		if r.Time != "" {
			line += " at " + r.Time
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return &toolprovider.Result{Text: fmt.Sprintf("There are no reservations for %s.", date)}, nil
	}
	return &toolprovider.Result{
		Text: fmt.Sprintf("Reservations for %s:\n%s", date, strings.Join(lines, "\n")),
		Data: map[string]any{"reservation_id": first, "count": len(lines)},
	}, nil
}

// cancel runs under the hotel lock.
func (d *Dining) cancel(call toolprovider.Call) (*toolprovider.Result, error) {
	id := argString(call.Args, "reservation_id", "")
	if id == "" {
		return nil, invalid(call.Tool, "no reservation to cancel")
	}
	for _, r := range d.h.reservations {
		if r.ID != id || r.TenantID != call.TenantID {
			continue
		}
		if r.Status == "cancelled" {
			return nil, invalid(call.Tool, "reservation %s is already cancelled", id)
		}
		r.Status = "cancelled"
		if r.Kind == "table" {
			key := r.Date + " " + r.Time
			d.h.coversLeft[key] = d.left(slot{date: r.Date, time: r.Time}) + r.Quantity
		}
		return &toolprovider.Result{
			Text: fmt.Sprintf("Cancelled reservation %s.", id),
			Data: map[string]any{"reservation_id": id, "receipt": "CXL-" + strings.TrimPrefix(id, "RSV-")},
		}, nil
	}
	return nil, invalid(call.Tool, "reservation %s not found", id)
}
