// Package quote implements the pricing engine: a pure computation that turns
// line items, a tax rate and a flat fee into an itemized monetary quote.
package quote

import (
	"fmt"
	"math"
	"time"

	"github.com/Strob0t/concierge/internal/domain"
)

// rateScale is the fixed-point precision of tax rates (millionths).
const rateScale = 1_000_000

// MaxSubtotalCents is the largest subtotal whose tax can be computed in
// int64 fixed point.
const MaxSubtotalCents = (math.MaxInt64 - rateScale/2) / rateScale

// LineItem is one priced entry of a quote.
type LineItem struct {
	Description    string `json:"description"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int64  `json:"quantity"`
}

// AmountCents returns unit price times quantity.
func (l LineItem) AmountCents() int64 {
	return l.UnitPriceCents * l.Quantity
}

// Pricing holds the inputs that are not part of the items themselves.
type Pricing struct {
	TaxRate      float64 `yaml:"tax_rate" json:"tax_rate"`
	FlatFeeCents int64   `yaml:"flat_fee_cents" json:"flat_fee_cents"`
	Currency     string  `yaml:"currency" json:"currency"`
}

// Validate rejects negative or absurd pricing inputs.
func (p Pricing) Validate() error {
	if p.TaxRate < 0 || p.TaxRate > 1 || math.IsNaN(p.TaxRate) {
		return fmt.Errorf("tax_rate must be within [0,1], got %v: %w", p.TaxRate, domain.ErrValidation)
	}
	if p.FlatFeeCents < 0 {
		return fmt.Errorf("flat_fee_cents must be non-negative: %w", domain.ErrValidation)
	}
	return nil
}

// Quote is a priced summary attached to a plan at a priced WRITE step.
// Once stored it is never recomputed.
type Quote struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id,omitempty"`
	PlanID        string     `json:"plan_id,omitempty"`
	StepIndex     int        `json:"step_index"`
	Currency      string     `json:"currency"`
	Items         []LineItem `json:"items"`
	SubtotalCents int64      `json:"subtotal_cents"`
	TaxCents      int64      `json:"tax_cents"`
	FeeCents      int64      `json:"fee_cents"`
	TotalCents    int64      `json:"total_cents"`
	CreatedAt     time.Time  `json:"created_at"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

// Compute prices items under p. Tax is rounded half-up to the cent exactly
// once, on the subtotal; line items are never rounded individually.
// The result depends only on its inputs.
func Compute(items []LineItem, p Pricing) (Quote, error) {
	if err := p.Validate(); err != nil {
		return Quote{}, err
	}
	if len(items) == 0 {
		return Quote{}, fmt.Errorf("quote needs at least one line item: %w", domain.ErrValidation)
	}

	var subtotal int64
	for i, it := range items {
		if it.UnitPriceCents < 0 {
			return Quote{}, fmt.Errorf("item %d: negative unit price: %w", i, domain.ErrValidation)
		}
		if it.Quantity < 1 {
			return Quote{}, fmt.Errorf("item %d: quantity must be >= 1: %w", i, domain.ErrValidation)
		}
		if it.UnitPriceCents > MaxSubtotalCents/it.Quantity {
			return Quote{}, fmt.Errorf("item %d: amount exceeds %d cents: %w", i, int64(MaxSubtotalCents), domain.ErrValidation)
		}
		amount := it.AmountCents()
		if subtotal > MaxSubtotalCents-amount {
			return Quote{}, fmt.Errorf("subtotal exceeds %d cents: %w", int64(MaxSubtotalCents), domain.ErrValidation)
		}
		subtotal += amount
	}

	tax := roundHalfUp(subtotal, scaledRate(p.TaxRate))
	if p.FlatFeeCents > math.MaxInt64-subtotal-tax {
		return Quote{}, fmt.Errorf("total exceeds %d cents: %w", int64(math.MaxInt64), domain.ErrValidation)
	}

	return Quote{
		Currency:      p.Currency,
		Items:         append([]LineItem(nil), items...),
		SubtotalCents: subtotal,
		TaxCents:      tax,
		FeeCents:      p.FlatFeeCents,
		TotalCents:    subtotal + tax + p.FlatFeeCents,
	}, nil
}

// scaledRate converts a fractional rate to millionths so that the tax
// multiplication happens in integers.
func scaledRate(rate float64) int64 {
	return int64(math.Round(rate * rateScale))
}

// roundHalfUp returns round(amount * scaled / rateScale) with halves rounded
// up. amount is within [0, MaxSubtotalCents] and scaled within [0, rateScale].
func roundHalfUp(amount, scaled int64) int64 {
	return (amount*scaled + rateScale/2) / rateScale
}
