package job

import (
	"fmt"
	"time"
)

// OutcomeKind classifies how a delivery ended.
type OutcomeKind int

const (
	// OutcomeSucceeded means the side effect ran and the job is done.
	OutcomeSucceeded OutcomeKind = iota
	// OutcomeSkipped means nothing ran because the job was already finished.
	OutcomeSkipped
	// OutcomeRetry means the attempt failed and the job is redelivered after Delay.
	OutcomeRetry
	// OutcomeFailed means the job is terminally failed and needs manual intervention.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is the explicit result of processing one delivery.
type Outcome struct {
	Kind  OutcomeKind
	Delay time.Duration
	Err   error
}

// RetryPolicy bounds worker retries with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Backoff returns the delay before attempt+1, doubling from BaseBackoff and
// capped at MaxBackoff. attempt is 1-based.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// AfterFailure decides what follows a failed attempt. attempts already
// includes the failed one. permanent failures skip the remaining budget.
func (p RetryPolicy) AfterFailure(attempts int, permanent bool, err error) Outcome {
	if permanent {
		return Outcome{Kind: OutcomeFailed, Err: err}
	}
	if attempts >= p.MaxAttempts {
		return Outcome{Kind: OutcomeFailed, Err: fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)}
	}
	return Outcome{Kind: OutcomeRetry, Delay: p.Backoff(attempts), Err: err}
}
