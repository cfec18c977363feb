package plan

import (
	"errors"
	"strings"
)

// userMessager is implemented by errors whose message is safe to show.
type userMessager interface {
	UserMessage() string
}

// FailureReason renders the human-readable reason stored on a failed step
// and plan. Only messages an error explicitly marks as user-safe are
// surfaced; anything else collapses to a generic sentence.
func FailureReason(tool string, err error) string {
	name := strings.ReplaceAll(tool, "_", " ")
	var um userMessager
	if errors.As(err, &um) {
		if msg := strings.TrimSpace(um.UserMessage()); msg != "" {
			return "Could not " + name + ": " + msg
		}
	}
	return "Could not " + name + " right now. Please try again later."
}
