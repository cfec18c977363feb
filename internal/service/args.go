package service

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"

	"github.com/Strob0t/concierge/internal/domain"
	"github.com/Strob0t/concierge/internal/domain/plan"
	"github.com/Strob0t/concierge/internal/domain/quote"
)

// callArgs returns the arguments a step is invoked with: the plan context
// overlaid by the step's own arguments.
func callArgs(p *plan.Plan, step *plan.Step) map[string]any {
	args := maps.Clone(p.Context)
	if args == nil {
		args = make(map[string]any, len(step.ToolArgs))
	}
	maps.Copy(args, step.ToolArgs)
	return args
}

// lineItems derives the priced line of a WRITE step from its arguments,
// falling back to values earlier READ steps put into the plan context.
func lineItems(p *plan.Plan, step *plan.Step) ([]quote.LineItem, error) {
	args := callArgs(p, step)

	unit, ok := asInt64(args["unit_price_cents"])
	if !ok {
		return nil, fmt.Errorf("step %d (%s) has no unit price: %w", step.Index, step.ToolName, domain.ErrValidation)
	}
	qty := int64(1)
	if v, ok := args["quantity"]; ok {
		if qty, ok = asInt64(v); !ok {
			return nil, fmt.Errorf("step %d (%s) has an invalid quantity %v: %w", step.Index, step.ToolName, v, domain.ErrValidation)
		}
	}
	desc, _ := args["description"].(string)
	if desc == "" {
		desc = humanize(step.ToolName)
	}
	return []quote.LineItem{{Description: desc, UnitPriceCents: unit, Quantity: qty}}, nil
}

// asInt64 accepts the numeric shapes arguments take before and after a
// JSON round trip.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func humanize(tool string) string {
	return strings.ReplaceAll(tool, "_", " ")
}

// formatCents renders an amount in minor units, e.g. "101.50 USD".
func formatCents(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}
