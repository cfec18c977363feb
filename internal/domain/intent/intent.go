// Package intent defines the recognized-intent templates the planner maps
// questions onto. Each template is a fixed, ordered list of tool steps with
// risk already assigned.
package intent

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/Strob0t/concierge/internal/domain"
	"github.com/Strob0t/concierge/internal/domain/plan"
)

// StepTemplate describes one step a template expands into.
type StepTemplate struct {
	Tool   string    `yaml:"tool" json:"tool"`
	Risk   plan.Risk `yaml:"risk" json:"risk"`
	Priced bool      `yaml:"priced" json:"priced,omitempty"`
	// Args maps a tool argument name to the extractor that fills it.
	Args map[string]string `yaml:"args" json:"args,omitempty"`
	// Static arguments are copied verbatim.
	Static map[string]any `yaml:"static" json:"static,omitempty"`
}

// Template is one recognized intent.
type Template struct {
	Name      string          `yaml:"name" json:"name"`
	Audiences []plan.Audience `yaml:"audiences" json:"audiences"`
	Patterns  []string        `yaml:"patterns" json:"patterns"`
	Steps     []StepTemplate  `yaml:"steps" json:"steps"`
}

// Allows reports whether the template applies to the audience.
func (t *Template) Allows(a plan.Audience) bool {
	return slices.Contains(t.Audiences, a)
}

// Validate checks the template is well formed.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template name is required: %w", domain.ErrValidation)
	}
	if len(t.Audiences) == 0 {
		return fmt.Errorf("template %s: at least one audience is required: %w", t.Name, domain.ErrValidation)
	}
	for _, a := range t.Audiences {
		if !plan.ValidAudience(a) {
			return fmt.Errorf("template %s: invalid audience %q: %w", t.Name, a, domain.ErrValidation)
		}
	}
	if len(t.Patterns) == 0 {
		return fmt.Errorf("template %s: at least one pattern is required: %w", t.Name, domain.ErrValidation)
	}
	for _, p := range t.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("template %s: pattern %q: %v: %w", t.Name, p, err, domain.ErrValidation)
		}
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("template %s: at least one step is required: %w", t.Name, domain.ErrValidation)
	}
	for i, s := range t.Steps {
		if s.Tool == "" {
			return fmt.Errorf("template %s step %d: tool is required: %w", t.Name, i, domain.ErrValidation)
		}
		if s.Risk != plan.RiskRead && s.Risk != plan.RiskWrite {
			return fmt.Errorf("template %s step %d: invalid risk %q: %w", t.Name, i, s.Risk, domain.ErrValidation)
		}
		if s.Priced && s.Risk != plan.RiskWrite {
			return fmt.Errorf("template %s step %d: only WRITE steps can be priced: %w", t.Name, i, domain.ErrValidation)
		}
		for arg, ex := range s.Args {
			if _, ok := extractors[ex]; !ok {
				return fmt.Errorf("template %s step %d: unknown extractor %q for %s: %w", t.Name, i, ex, arg, domain.ErrValidation)
			}
		}
	}
	return nil
}

type compiled struct {
	tmpl     Template
	patterns []*regexp.Regexp
}

// Set is an ordered, compiled collection of templates. The first template
// whose pattern matches wins, so order is part of the configuration.
type Set struct {
	entries []compiled
}

// NewSet validates and compiles templates. Later templates with the same
// name replace earlier ones in place.
func NewSet(templates ...Template) (*Set, error) {
	s := &Set{}
	for i := range templates {
		t := templates[i]
		if err := t.Validate(); err != nil {
			return nil, err
		}
		c := compiled{tmpl: t}
		for _, p := range t.Patterns {
			c.patterns = append(c.patterns, regexp.MustCompile("(?i)"+p))
		}
		if idx := s.index(t.Name); idx >= 0 {
			s.entries[idx] = c
			continue
		}
		s.entries = append(s.entries, c)
	}
	return s, nil
}

func (s *Set) index(name string) int {
	for i := range s.entries {
		if s.entries[i].tmpl.Name == name {
			return i
		}
	}
	return -1
}

// Match returns the first template allowed for the audience that matches
// the question, or nil.
func (s *Set) Match(a plan.Audience, question string) *Template {
	for i := range s.entries {
		e := &s.entries[i]
		if !e.tmpl.Allows(a) {
			continue
		}
		for _, re := range e.patterns {
			if re.MatchString(question) {
				t := e.tmpl
				return &t
			}
		}
	}
	return nil
}

// Names returns template names in match order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.entries))
	for i := range s.entries {
		names = append(names, s.entries[i].tmpl.Name)
	}
	return names
}

// Templates returns copies of the templates in match order.
func (s *Set) Templates() []Template {
	out := make([]Template, 0, len(s.entries))
	for i := range s.entries {
		out = append(out, s.entries[i].tmpl)
	}
	return out
}
