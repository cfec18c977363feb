package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

// Events serves the hotel event calendar and ticket sales.
type Events struct{ h *Hotel }

func (e *Events) Provider() string            { return ProviderName }
func (e *Events) Domain() toolprovider.Domain { return toolprovider.DomainEvents }

func (e *Events) Tools() []toolprovider.ToolSpec {
	return []toolprovider.ToolSpec{
		{Name: "list_events", Description: "List upcoming hotel events", Params: []string{"date"}},
		{Name: "buy_tickets", Description: "Buy event tickets", Params: []string{"event_id", "quantity"}},
	}
}

func (e *Events) Execute(ctx context.Context, call toolprovider.Call) (*toolprovider.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch call.Tool {
	case "list_events":
		return e.list(call)
	case "buy_tickets":
		return e.h.write(call, func() (*toolprovider.Result, error) { return e.buy(call) })
	}
	return nil, fmt.Errorf("%s: %w", call.Tool, toolprovider.ErrToolNotFound)
}

func (e *Events) list(call toolprovider.Call) (*toolprovider.Result, error) {
	e.h.mu.Lock()
	defer e.h.mu.Unlock()

	date := argString(call.Args, "date", "today")
	lines := make([]string, 0, len(e.h.events))
	var candidate *Event
	for _, ev := range e.h.events {
		status := fmt.Sprintf("%s, %d seats left", dollars(ev.UnitPriceCents), ev.SeatsLeft)
		if ev.SeatsLeft == 0 {
			status = "sold out"
		} else if candidate == nil {
			candidate = ev
		}
		lines = append(lines, fmt.Sprintf("%s (%s)", ev.Name, status))
	}

	res := &toolprovider.Result{Text: fmt.Sprintf("Events %s: %s.", date, strings.Join(lines, "; "))}
	if candidate != nil {
		res.Data = map[string]any{
			"event_id":         candidate.ID,
			"unit_price_cents": candidate.UnitPriceCents,
			"description":      candidate.Name + " ticket",
		}
	}
	return res, nil
}

// buy runs under the hotel lock.
func (e *Events) buy(call toolprovider.Call) (*toolprovider.Result, error) {
	id := argString(call.Args, "event_id", "")
	qty, err := argInt(call.Args, "quantity", 1)
	if err != nil {
		return nil, invalid(call.Tool, "%v", err)
	}
	if qty < 1 {
		return nil, invalid(call.Tool, "at least one ticket is required")
	}
	for _, ev := range e.h.events {
		if ev.ID != id {
			continue
		}
		if ev.SeatsLeft < qty {
			return nil, invalid(call.Tool, "%s is sold out", ev.Name)
		}
		ev.SeatsLeft -= qty
		res := &Reservation{
			TenantID: call.TenantID, Kind: "tickets", Date: argString(call.Args, "date", "today"),
			Detail: ev.Name, Quantity: qty,
		}
		e.h.addReservation(res)
		return &toolprovider.Result{
			Text: fmt.Sprintf("Bought %d ticket(s) for %s.", qty, ev.Name),
			Data: map[string]any{"order_id": res.ID, "receipt": res.ID},
		}, nil
	}
	return nil, invalid(call.Tool, "unknown event %q", id)
}
