package sandbox

import (
	"context"
	"fmt"

	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

// Rooms serves room availability and booking.
type Rooms struct{ h *Hotel }

func (r *Rooms) Provider() string            { return ProviderName }
func (r *Rooms) Domain() toolprovider.Domain { return toolprovider.DomainRooms }

func (r *Rooms) Tools() []toolprovider.ToolSpec {
	return []toolprovider.ToolSpec{
		{Name: "check_room_availability", Description: "Check room availability and the nightly rate", Params: []string{"date", "nights", "room_type"}},
		{Name: "book_room", Description: "Book a room", Params: []string{"date", "nights", "room_type"}},
	}
}

func (r *Rooms) Execute(ctx context.Context, call toolprovider.Call) (*toolprovider.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch call.Tool {
	case "check_room_availability":
		return r.check(call)
	case "book_room":
		return r.h.write(call, func() (*toolprovider.Result, error) { return r.book(call) })
	}
	return nil, fmt.Errorf("%s: %w", call.Tool, toolprovider.ErrToolNotFound)
}

func (r *Rooms) stay(call toolprovider.Call) (roomType, date string, nights int, rate int64, err error) {
	roomType = argString(call.Args, "room_type", "double")
	date = argString(call.Args, "date", "today")
	nights, err = argInt(call.Args, "nights", 1)
	if err != nil {
		return "", "", 0, 0, invalid(call.Tool, "%v", err)
	}
	if nights < 1 || nights > 30 {
		return "", "", 0, 0, invalid(call.Tool, "stays must be between 1 and 30 nights")
	}
	rate, ok := r.h.roomRates[roomType]
	if !ok {
		return "", "", 0, 0, invalid(call.Tool, "we have no %s rooms", roomType)
	}
	return roomType, date, nights, rate, nil
}

func (r *Rooms) check(call toolprovider.Call) (*toolprovider.Result, error) {
	r.h.mu.Lock()
	defer r.h.mu.Unlock()

	roomType, date, nights, rate, err := r.stay(call)
	if err != nil {
		return nil, err
	}
	if r.h.roomsLeft[roomType] == 0 {
		return &toolprovider.Result{
			Text: fmt.Sprintf("No %s rooms are available from %s.", roomType, date),
			Data: map[string]any{"available": false, "room_type": roomType},
		}, nil
	}
	return &toolprovider.Result{
		Text: fmt.Sprintf("A %s room is available from %s for %d night(s) at %s per night.", roomType, date, nights, dollars(rate)),
		Data: map[string]any{
			"available":        true,
			"room_type":        roomType,
			"unit_price_cents": rate,
			"quantity":         nights,
			"description":      fmt.Sprintf("%s room, per night", roomType),
		},
	}, nil
}

// book runs under the hotel lock.
func (r *Rooms) book(call toolprovider.Call) (*toolprovider.Result, error) {
	roomType, date, nights, _, err := r.stay(call)
	if err != nil {
		return nil, err
	}
	if r.h.roomsLeft[roomType] == 0 {
		return nil, invalid(call.Tool, "no %s rooms are left", roomType)
	}
	r.h.roomsLeft[roomType]--

	res := &Reservation{TenantID: call.TenantID, Kind: "room", Date: date, Detail: roomType, Quantity: nights}
	r.h.addReservation(res)
	return &toolprovider.Result{
		Text: fmt.Sprintf("Booked a %s room from %s for %d night(s).", roomType, date, nights),
		Data: map[string]any{"booking_id": res.ID, "receipt": res.ID},
	}, nil
}
