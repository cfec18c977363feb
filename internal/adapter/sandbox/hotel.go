// Package sandbox implements in-memory room, dining, event and commerce
// capabilities. It is the provider bound by default for local runs and
// demos; real property-management adapters plug in through the same
// toolprovider.Capability interface.
package sandbox

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

// ProviderName is the binding name of this provider.
const ProviderName = "sandbox"

// Reservation is a booked table, room or ticket order.
type Reservation struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Kind     string `json:"kind"`
	Date     string `json:"date"`
	Time     string `json:"time,omitempty"`
	Detail   string `json:"detail"`
	Quantity int    `json:"quantity"`
	Status   string `json:"status"`
}

// Event is a bookable hotel event.
type Event struct {
	ID             string
	Name           string
	UnitPriceCents int64
	SeatsLeft      int
}

// Hotel holds the shared in-memory state of all sandbox capabilities.
type Hotel struct {
	mu            sync.Mutex
	roomRates     map[string]int64
	roomsLeft     map[string]int
	coverCents    int64
	maxParty      int
	coversPerSlot int
	coversLeft    map[string]int // "date time" -> remaining covers
	events        []*Event
	reservations  []*Reservation
	settlements   map[string]string // payment id -> receipt
	results       map[string]*toolprovider.Result
}

// NewHotel creates a hotel with the default demo inventory.
func NewHotel() *Hotel {
	return &Hotel{
		roomRates: map[string]int64{
			"single": 9000, "double": 12000, "twin": 12000, "queen": 15000,
			"king": 18000, "deluxe": 24000, "suite": 32000,
		},
		roomsLeft: map[string]int{
			"single": 5, "double": 5, "twin": 5, "queen": 5,
			"king": 5, "deluxe": 3, "suite": 1,
		},
		coverCents:    4500,
		maxParty:      12,
		coversPerSlot: 40,
		coversLeft:    make(map[string]int),
		events: []*Event{
			{ID: "evt-jazz", Name: "Jazz night in the lobby bar", UnitPriceCents: 3500, SeatsLeft: 50},
			{ID: "evt-wine", Name: "Wine tasting", UnitPriceCents: 6000, SeatsLeft: 12},
			{ID: "evt-brunch", Name: "Sunday brunch concert", UnitPriceCents: 2500, SeatsLeft: 0},
		},
		settlements: make(map[string]string),
		results:     make(map[string]*toolprovider.Result),
	}
}

// Capabilities returns one capability per domain, all sharing h.
func (h *Hotel) Capabilities() []toolprovider.Capability {
	return []toolprovider.Capability{
		&Rooms{h: h},
		&Dining{h: h},
		&Events{h: h},
		&Commerce{h: h},
	}
}

// Reservations returns a copy of the tenant's reservations.
func (h *Hotel) Reservations(tenantID string) []Reservation {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Reservation
	for _, r := range h.reservations {
		if r.TenantID == tenantID {
			out = append(out, *r)
		}
	}
	return out
}

// write runs fn under the hotel lock and replays the stored result for a
// repeated idempotency key. Failed writes are not stored.
func (h *Hotel) write(call toolprovider.Call, fn func() (*toolprovider.Result, error)) (*toolprovider.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := ""
	if call.IdempotencyKey != "" {
		key = call.TenantID + "/" + call.Tool + "/" + call.IdempotencyKey
		if res, ok := h.results[key]; ok {
			return res, nil
		}
	}
	res, err := fn()
	if err != nil {
		return nil, err
	}
	if key != "" {
		h.results[key] = res
	}
	return res, nil
}

func (h *Hotel) addReservation(r *Reservation) {
	r.ID = reference(r.Kind)
	r.Status = "confirmed"
	h.reservations = append(h.reservations, r)
}

func reference(kind string) string {
	prefix := map[string]string{"room": "RM", "table": "RSV", "tickets": "TKT", "payment": "RCPT"}[kind]
	return prefix + "-" + strings.ToUpper(uuid.NewString()[:8])
}

func invalid(tool, format string, args ...any) error {
	return toolprovider.Permanent(tool, fmt.Errorf(format, args...))
}

// argString reads a string argument, falling back to def.
func argString(args map[string]any, key, def string) string {
	if v, ok := args[key]; ok && v != nil {
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return def
}

// argInt reads an integer argument. Values arrive as Go ints from the
// planner and as float64 after a JSON round trip through the store.
func argInt(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%s must be a whole number", key)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%s must be a number", key)
		}
		return i, nil
	}
	return 0, fmt.Errorf("%s has unsupported type %T", key, v)
}

func dollars(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
