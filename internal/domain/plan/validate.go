package plan

import (
	"fmt"

	"github.com/Strob0t/concierge/internal/domain"
)

var validAudiences = map[Audience]bool{
	AudienceGuest: true,
	AudienceStaff: true,
}

var validModes = map[Mode]bool{
	ModeCommit: true,
	ModeDryRun: true,
}

var validRisks = map[Risk]bool{
	RiskRead:  true,
	RiskWrite: true,
}

// ValidAudience reports whether a is a known audience.
func ValidAudience(a Audience) bool { return validAudiences[a] }

// Validate checks the structural invariants of a plan before it is run:
// known audience and mode, at least one step, indices strictly increasing
// from zero without gaps, and every step a TOOL with a known risk.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan id is required: %w", domain.ErrValidation)
	}
	if p.TenantID == "" {
		return fmt.Errorf("tenant_id is required: %w", domain.ErrValidation)
	}
	if !validAudiences[p.Audience] {
		return fmt.Errorf("invalid audience %q: %w", p.Audience, domain.ErrValidation)
	}
	if p.Mode != "" && !validModes[p.Mode] {
		return fmt.Errorf("invalid plan_mode %q: %w", p.Mode, domain.ErrValidation)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps: %w", domain.ErrValidation)
	}
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Index != i {
			return fmt.Errorf("step %d has index %d, want %d: %w", i, s.Index, i, domain.ErrValidation)
		}
		if s.Type != StepTypeTool {
			return fmt.Errorf("step %d: invalid step_type %q: %w", i, s.Type, domain.ErrValidation)
		}
		if s.ToolName == "" {
			return fmt.Errorf("step %d: tool_name is required: %w", i, domain.ErrValidation)
		}
		if !validRisks[s.Risk] {
			return fmt.Errorf("step %d: invalid risk %q: %w", i, s.Risk, domain.ErrValidation)
		}
		if s.Priced && s.Risk != RiskWrite {
			return fmt.Errorf("step %d: only WRITE steps can be priced: %w", i, domain.ErrValidation)
		}
	}
	return nil
}
