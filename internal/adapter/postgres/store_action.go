package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/concierge/internal/domain"
	"github.com/Strob0t/concierge/internal/domain/action"
	"github.com/Strob0t/concierge/internal/port/database"
)

func (s *Store) GetPendingAction(ctx context.Context, id string) (*action.PendingAction, error) {
	var a action.PendingAction
	var outcome []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, plan_id, step_index, state, outcome, created_at, decided_at
		 FROM pending_actions WHERE id = $1 AND tenant_id = $2`, id, tenantFromCtx(ctx),
	).Scan(&a.ID, &a.TenantID, &a.PlanID, &a.StepIndex, &a.State, &outcome, &a.CreatedAt, &a.DecidedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get pending action %s", id)
	}
	if len(outcome) > 0 {
		a.Outcome = &action.Outcome{}
		if err := json.Unmarshal(outcome, a.Outcome); err != nil {
			return nil, fmt.Errorf("unmarshal outcome of action %s: %w", id, err)
		}
	}
	return &a, nil
}

// ConsumePendingAction is the single serialization point for decisions: the
// conditional update succeeds for exactly one caller.
func (s *Store) ConsumePendingAction(ctx context.Context, id string, state action.State) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_actions SET state = $3, decided_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND state = 'pending'`,
		id, tenantFromCtx(ctx), state)
	if err != nil {
		return false, fmt.Errorf("consume pending action %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// FinishAction writes the step, the plan and the stored outcome together so
// a replay never observes a half-recorded decision. Only the first outcome
// sticks; a second one is a conflict and rolls back.
func (s *Store) FinishAction(ctx context.Context, c database.ActionCompletion) error {
	outcome, err := json.Marshal(c.Outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	ctxJSON, err := jsonObject(c.PlanContext)
	if err != nil {
		return fmt.Errorf("marshal plan context: %w", err)
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := updateStep(ctx, tx, c.PlanID, c.StepIndex, c.StepStatus, c.StepResult, c.StepError); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE plans SET status = $2, answer = $3, error = $4, context = $5, updated_at = now() WHERE id = $1`,
			c.PlanID, c.PlanStatus, c.PlanAnswer, c.PlanError, ctxJSON)
		if err := execExpectOne(tag, err, "finish plan %s", c.PlanID); err != nil {
			return err
		}
		tag, err = tx.Exec(ctx,
			`UPDATE pending_actions SET outcome = $2 WHERE id = $1 AND outcome IS NULL`, c.ActionID, outcome)
		if err != nil {
			return fmt.Errorf("store outcome of action %s: %w", c.ActionID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("outcome of action %s already stored: %w", c.ActionID, domain.ErrConflict)
		}
		return nil
	})
}
