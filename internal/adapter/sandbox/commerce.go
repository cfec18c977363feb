package sandbox

import (
	"context"
	"fmt"

	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

// Commerce settles paid quotes.
type Commerce struct{ h *Hotel }

func (c *Commerce) Provider() string            { return ProviderName }
func (c *Commerce) Domain() toolprovider.Domain { return toolprovider.DomainCommerce }

func (c *Commerce) Tools() []toolprovider.ToolSpec {
	return []toolprovider.ToolSpec{
		{Name: "settle_payment", Description: "Settle a paid quote", Params: []string{"quote_id", "payment_id"}},
	}
}

func (c *Commerce) Execute(ctx context.Context, call toolprovider.Call) (*toolprovider.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if call.Tool != "settle_payment" {
		return nil, fmt.Errorf("%s: %w", call.Tool, toolprovider.ErrToolNotFound)
	}
	return c.h.write(call, func() (*toolprovider.Result, error) {
		quoteID := argString(call.Args, "quote_id", "")
		paymentID := argString(call.Args, "payment_id", "")
		if quoteID == "" || paymentID == "" {
			return nil, invalid(call.Tool, "quote_id and payment_id are required")
		}
		receipt, ok := c.h.settlements[paymentID]
		if !ok {
			receipt = reference("payment")
			c.h.settlements[paymentID] = receipt
		}
		return &toolprovider.Result{
			Text: fmt.Sprintf("Payment %s settled for quote %s.", paymentID, quoteID),
			Data: map[string]any{"receipt": receipt},
		}, nil
	})
}

// Settlements returns how many distinct payments were settled.
func (h *Hotel) Settlements() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.settlements)
}
