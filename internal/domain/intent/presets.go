package intent

import "github.com/Strob0t/concierge/internal/domain/plan"

var (
	everyone  = []plan.Audience{plan.AudienceGuest, plan.AudienceStaff}
	staffOnly = []plan.Audience{plan.AudienceStaff}
)

// Presets returns the built-in templates in match order. Write intents come
// before the read intents whose patterns they overlap.
func Presets() []Template {
	return []Template{
		{
			Name:      "book_room",
			Audiences: everyone,
			Patterns: []string{
				`\b(book|reserve)\b.*\b(room|suite)\b`,
				`\b(stay|staying)\b.*\b\d+\s+nights?\b`,
			},
			Steps: []StepTemplate{
				{Tool: "check_room_availability", Risk: plan.RiskRead, Args: map[string]string{"date": "date", "nights": "nights", "room_type": "room_type"}},
				{Tool: "book_room", Risk: plan.RiskWrite, Priced: true, Args: map[string]string{"date": "date", "nights": "nights", "quantity": "nights", "room_type": "room_type"}},
			},
		},
		{
			Name:      "reserve_table",
			Audiences: everyone,
			Patterns: []string{
				`\b(book|reserve)\b.*\btable\b`,
				`\btable for \d+`,
				`\bdinner reservation\b`,
			},
			Steps: []StepTemplate{
				{Tool: "check_table_availability", Risk: plan.RiskRead, Args: map[string]string{"date": "date", "time": "time", "party_size": "party_size"}},
				{Tool: "reserve_table", Risk: plan.RiskWrite, Priced: true, Args: map[string]string{"date": "date", "time": "time", "party_size": "party_size", "quantity": "party_size"}},
			},
		},
		{
			Name:      "buy_tickets",
			Audiences: everyone,
			Patterns: []string{
				`\b(buy|purchase|get|book)\b.*\b(tickets?|seats?|passes?)\b`,
			},
			Steps: []StepTemplate{
				{Tool: "list_events", Risk: plan.RiskRead, Args: map[string]string{"date": "date"}},
				{Tool: "buy_tickets", Risk: plan.RiskWrite, Priced: true, Args: map[string]string{"date": "date", "quantity": "tickets"}},
			},
		},
		{
			Name:      "cancel_reservation",
			Audiences: staffOnly,
			Patterns:  []string{`\bcancel\b.*\b(reservation|booking)\b`},
			Steps: []StepTemplate{
				{Tool: "list_reservations", Risk: plan.RiskRead, Args: map[string]string{"date": "date"}},
				{Tool: "cancel_reservation", Risk: plan.RiskWrite, Args: map[string]string{"date": "date"}},
			},
		},
		{
			Name:      "list_reservations",
			Audiences: staffOnly,
			Patterns:  []string{`\b(list|show|which)\b.*\b(reservations|bookings)\b`},
			Steps: []StepTemplate{
				{Tool: "list_reservations", Risk: plan.RiskRead, Args: map[string]string{"date": "date"}},
			},
		},
		{
			Name:      "check_room_availability",
			Audiences: everyone,
			Patterns: []string{
				`\b(available|availability|vacancy|vacancies)\b.*\brooms?\b`,
				`\brooms?\b.*\b(available|availability|free)\b`,
			},
			Steps: []StepTemplate{
				{Tool: "check_room_availability", Risk: plan.RiskRead, Args: map[string]string{"date": "date", "nights": "nights", "room_type": "room_type"}},
			},
		},
		{
			Name:      "check_table_availability",
			Audiences: everyone,
			Patterns: []string{
				`\b(available|availability|free)\b.*\btables?\b`,
				`\btables?\b.*\b(available|availability|free)\b`,
			},
			Steps: []StepTemplate{
				{Tool: "check_table_availability", Risk: plan.RiskRead, Args: map[string]string{"date": "date", "time": "time", "party_size": "party_size"}},
			},
		},
		{
			Name:      "list_events",
			Audiences: everyone,
			Patterns:  []string{`\b(events?|shows?|concerts?|what'?s on)\b`},
			Steps: []StepTemplate{
				{Tool: "list_events", Risk: plan.RiskRead, Args: map[string]string{"date": "date"}},
			},
		},
	}
}
