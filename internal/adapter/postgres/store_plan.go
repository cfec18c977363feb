package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/concierge/internal/domain/plan"
	"github.com/Strob0t/concierge/internal/port/database"
)

const planColumns = `id, tenant_id, session_id, audience, question, intent, mode, status, context, answer, error, COALESCE(quote_id, ''), created_at, updated_at`

const stepColumns = `step_index, step_type, tool_name, tool_args, risk, priced, status, result, error`

// CreatePlan inserts the plan and all of its steps in one transaction.
func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	ctxJSON, err := jsonObject(p.Context)
	if err != nil {
		return fmt.Errorf("marshal plan context: %w", err)
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO plans (id, tenant_id, session_id, audience, question, intent, mode, status, context)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING created_at, updated_at`,
			p.ID, p.TenantID, p.SessionID, p.Audience, p.Question, p.Intent, p.Mode, p.Status, ctxJSON,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert plan %s: %w", p.ID, err)
		}

		batch := &pgx.Batch{}
		for i := range p.Steps {
			st := &p.Steps[i]
			args, err := jsonObject(st.ToolArgs)
			if err != nil {
				return fmt.Errorf("marshal args for step %d: %w", st.Index, err)
			}
			batch.Queue(
				`INSERT INTO plan_steps (plan_id, step_index, step_type, tool_name, tool_args, risk, priced, status)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				p.ID, st.Index, st.Type, st.ToolName, args, st.Risk, st.Priced, st.Status,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert steps for plan %s: %w", p.ID, err)
		}
		return nil
	})
}

// GetPlan loads a plan and its steps in index order.
func (s *Store) GetPlan(ctx context.Context, id string) (*plan.Plan, error) {
	p, err := scanPlan(s.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1 AND tenant_id = $2`, id, tenantFromCtx(ctx)))
	if err != nil {
		return nil, notFoundWrap(err, "get plan %s", id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM plan_steps WHERE plan_id = $1 ORDER BY step_index`, id)
	if err != nil {
		return nil, fmt.Errorf("get steps for plan %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step for plan %s: %w", id, err)
		}
		p.Steps = append(p.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps for plan %s: %w", id, err)
	}
	return &p, nil
}

func (s *Store) UpdatePlanStatus(ctx context.Context, id string, status plan.Status, answer, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE plans SET status = $2, answer = $3, error = $4, updated_at = now() WHERE id = $1`,
		id, status, answer, errMsg)
	return execExpectOne(tag, err, "update plan %s status", id)
}

// SaveStepResult writes a step transition and the plan context together.
func (s *Store) SaveStepResult(ctx context.Context, planID string, step *plan.Step, planContext map[string]any) error {
	ctxJSON, err := jsonObject(planContext)
	if err != nil {
		return fmt.Errorf("marshal plan context: %w", err)
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := updateStep(ctx, tx, planID, step.Index, step.Status, step.Result, step.Error); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE plans SET context = $2, updated_at = now() WHERE id = $1`, planID, ctxJSON)
		return execExpectOne(tag, err, "update plan %s context", planID)
	})
}

// HaltForConfirmation stores the quote, the pending action and the
// needs_confirmation status in one transaction.
func (s *Store) HaltForConfirmation(ctx context.Context, h database.Halt) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var quoteID *string
		if h.Quote != nil {
			if err := insertQuote(ctx, tx, h.Quote); err != nil {
				return err
			}
			quoteID = &h.Quote.ID
		}

		tag, err := tx.Exec(ctx,
			`UPDATE plans SET status = $2, quote_id = $3, answer = $4, updated_at = now() WHERE id = $1`,
			h.PlanID, plan.StatusNeedsConfirmation, quoteID, h.Answer)
		if err := execExpectOne(tag, err, "halt plan %s", h.PlanID); err != nil {
			return err
		}

		a := h.Action
		err = tx.QueryRow(ctx,
			`INSERT INTO pending_actions (id, tenant_id, plan_id, step_index, state)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING created_at`,
			a.ID, a.TenantID, a.PlanID, a.StepIndex, a.State,
		).Scan(&a.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert pending action for plan %s: %w", h.PlanID, err)
		}
		return nil
	})
}

func updateStep(ctx context.Context, tx pgx.Tx, planID string, index int, status plan.StepStatus, result, errMsg string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE plan_steps SET status = $3, result = $4, error = $5, updated_at = now()
		 WHERE plan_id = $1 AND step_index = $2`,
		planID, index, status, result, errMsg)
	return execExpectOne(tag, err, "update step %d of plan %s", index, planID)
}

func scanPlan(row scannable) (plan.Plan, error) {
	var p plan.Plan
	var ctxJSON []byte
	err := row.Scan(&p.ID, &p.TenantID, &p.SessionID, &p.Audience, &p.Question, &p.Intent,
		&p.Mode, &p.Status, &ctxJSON, &p.Answer, &p.Error, &p.QuoteID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	if p.Context, err = unmarshalObject(ctxJSON); err != nil {
		return p, fmt.Errorf("unmarshal plan context: %w", err)
	}
	return p, nil
}

func scanStep(row scannable) (plan.Step, error) {
	var st plan.Step
	var args []byte
	err := row.Scan(&st.Index, &st.Type, &st.ToolName, &args, &st.Risk, &st.Priced, &st.Status, &st.Result, &st.Error)
	if err != nil {
		return st, err
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &st.ToolArgs); err != nil {
			return st, fmt.Errorf("unmarshal tool args: %w", err)
		}
	}
	return st, nil
}
