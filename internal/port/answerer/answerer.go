// Package answerer defines the port for the free-form answering path the
// assistant falls back to when no intent template matches.
package answerer

import "context"

// Request is a question that did not map onto a plan.
type Request struct {
	TenantID  string
	SessionID string
	Audience  string
	Question  string
}

// Answerer produces a free-form answer. It never performs side effects.
type Answerer interface {
	Answer(ctx context.Context, req Request) (string, error)
}
