package service

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/concierge/internal/domain"
	"github.com/Strob0t/concierge/internal/domain/intent"
	"github.com/Strob0t/concierge/internal/domain/plan"
)

// PlanRequest is one user turn to plan for.
type PlanRequest struct {
	TenantID  string
	SessionID string
	Audience  plan.Audience
	Question  string
	Mode      plan.Mode
}

// toolCatalog is the part of the ToolRegistry the planner needs.
type toolCatalog interface {
	Has(tool string) bool
}

// Planner maps recognized intents onto step templates. It never guesses:
// a question no template matches yields no plan.
type Planner struct {
	templates *intent.Set
}

// NewPlanner checks that every templated tool is served by some capability.
func NewPlanner(templates *intent.Set, tools toolCatalog) (*Planner, error) {
	var missing []string
	for _, t := range templates.Templates() {
		for _, s := range t.Steps {
			if !tools.Has(s.Tool) {
				missing = append(missing, t.Name+"/"+s.Tool)
			}
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("templates reference unknown tools %s: %w", strings.Join(missing, ", "), domain.ErrValidation)
	}
	return &Planner{templates: templates}, nil
}

// Plan returns a new pending plan for req, or nil when no intent matches.
func (p *Planner) Plan(req PlanRequest) *plan.Plan {
	tmpl := p.templates.Match(req.Audience, req.Question)
	if tmpl == nil {
		return nil
	}

	mode := req.Mode
	if mode == "" {
		mode = plan.ModeCommit
	}
	now := time.Now().UTC()
	pl := &plan.Plan{
		ID:        uuid.NewString(),
		TenantID:  req.TenantID,
		SessionID: req.SessionID,
		Audience:  req.Audience,
		Question:  req.Question,
		Intent:    tmpl.Name,
		Mode:      mode,
		Status:    plan.StatusPending,
		Steps:     make([]plan.Step, 0, len(tmpl.Steps)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, st := range tmpl.Steps {
		pl.Steps = append(pl.Steps, plan.Step{
			Index:    i,
			Type:     plan.StepTypeTool,
			ToolName: st.Tool,
			ToolArgs: stepArgs(st, req.Question),
			Risk:     st.Risk,
			Priced:   st.Priced,
			Status:   plan.StepStatusPending,
		})
	}
	return pl
}

func stepArgs(st intent.StepTemplate, question string) map[string]any {
	args := maps.Clone(st.Static)
	if args == nil {
		args = make(map[string]any, len(st.Args))
	}
	// Sorted for a stable iteration order; extractors are independent.
	for _, name := range slices.Sorted(maps.Keys(st.Args)) {
		if v, ok := intent.Extract(st.Args[name], question); ok {
			args[name] = v
		}
	}
	return args
}

// Templates lists the template names in match order.
func (p *Planner) Templates() []string {
	return p.templates.Names()
}

// ToolsByRisk returns the distinct templated tools with the given risk.
func (p *Planner) ToolsByRisk(risk plan.Risk) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range p.templates.Templates() {
		for _, s := range t.Steps {
			if s.Risk == risk && !seen[s.Tool] {
				seen[s.Tool] = true
				out = append(out, s.Tool)
			}
		}
	}
	slices.Sort(out)
	return out
}
