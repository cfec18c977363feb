package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/concierge/internal/domain/quote"
)

func (s *Store) GetQuote(ctx context.Context, id string) (*quote.Quote, error) {
	var q quote.Quote
	var items []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, plan_id, step_index, currency, items, subtotal_cents, tax_cents, fee_cents, total_cents, created_at, paid_at
		 FROM quotes WHERE id = $1 AND tenant_id = $2`, id, tenantFromCtx(ctx),
	).Scan(&q.ID, &q.TenantID, &q.PlanID, &q.StepIndex, &q.Currency, &items,
		&q.SubtotalCents, &q.TaxCents, &q.FeeCents, &q.TotalCents, &q.CreatedAt, &q.PaidAt)
	if err != nil {
		return nil, notFoundWrap(err, "get quote %s", id)
	}
	if err := json.Unmarshal(items, &q.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items of quote %s: %w", id, err)
	}
	return &q, nil
}

// MarkQuotePaid records settlement. A quote keeps its first paid_at.
func (s *Store) MarkQuotePaid(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quotes SET paid_at = COALESCE(paid_at, now()) WHERE id = $1 AND tenant_id = $2`,
		id, tenantFromCtx(ctx))
	return execExpectOne(tag, err, "mark quote %s paid", id)
}

func insertQuote(ctx context.Context, tx pgx.Tx, q *quote.Quote) error {
	items, err := json.Marshal(q.Items)
	if err != nil {
		return fmt.Errorf("marshal quote items: %w", err)
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO quotes (id, tenant_id, plan_id, step_index, currency, items, subtotal_cents, tax_cents, fee_cents, total_cents)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at`,
		q.ID, q.TenantID, q.PlanID, q.StepIndex, q.Currency, items,
		q.SubtotalCents, q.TaxCents, q.FeeCents, q.TotalCents,
	).Scan(&q.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert quote %s: %w", q.ID, err)
	}
	return nil
}
