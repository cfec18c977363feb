// Package toolprovider defines the capability port: the uniform surface the
// tool registry dispatches to. One Capability serves one domain (rooms,
// dining, events, commerce) for a provider.
package toolprovider

import (
	"context"
	"errors"
	"fmt"
)

// Domain groups related tools served by one capability.
type Domain string

const (
	DomainRooms    Domain = "rooms"
	DomainDining   Domain = "dining"
	DomainEvents   Domain = "events"
	DomainCommerce Domain = "commerce"
)

// ErrToolNotFound is returned for a tool name no capability serves.
var ErrToolNotFound = errors.New("tool not found")

// ErrToolExecutionFailed is matched by every *ExecutionError.
var ErrToolExecutionFailed = errors.New("tool execution failed")

// ExecutionError carries a provider-level failure for a tool.
type ExecutionError struct {
	Tool    string
	Message string
	// Permanent marks failures that will not succeed on retry
	// (e.g. sold out, invalid arguments).
	Permanent bool
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrToolExecutionFailed) hold for any ExecutionError.
func (e *ExecutionError) Is(target error) bool { return target == ErrToolExecutionFailed }

// Permanent wraps err as a non-retryable execution failure.
func Permanent(tool string, err error) *ExecutionError {
	return &ExecutionError{Tool: tool, Message: err.Error(), Permanent: true, Err: err}
}

// IsPermanent reports whether err is a permanent tool failure.
func IsPermanent(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee) && ee.Permanent
}

// ToolSpec describes a tool a capability serves.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Params lists argument names the tool understands, for discovery only.
	Params []string `json:"params,omitempty"`
}

// Call is one tool invocation.
type Call struct {
	Tool     string
	Args     map[string]any
	TenantID string
	// IdempotencyKey is stable across retries of the same logical write.
	IdempotencyKey string
}

// Well-known Data keys.
const (
	// DataAvailable set to false by a READ tool ends the plan before any WRITE.
	DataAvailable = "available"
	// DataReceipt is the provider reference of a completed write.
	DataReceipt = "receipt"
)

// Result is the outcome of a successful invocation. Text is shown to the
// user; Data carries structured values later steps may use.
type Result struct {
	Text string         `json:"text"`
	Data map[string]any `json:"data,omitempty"`
}

// Unavailable reports whether the provider said there is nothing to book.
func (r *Result) Unavailable() bool {
	v, ok := r.Data[DataAvailable].(bool)
	return ok && !v
}

// Receipt returns the provider reference, if any.
func (r *Result) Receipt() string {
	s, _ := r.Data[DataReceipt].(string)
	return s
}

// Capability is implemented by one variant per domain provider.
type Capability interface {
	// Provider returns the provider name, e.g. "sandbox".
	Provider() string

	// Domain returns the domain this capability serves.
	Domain() Domain

	// Tools lists the tools this capability serves.
	Tools() []ToolSpec

	// Execute runs one tool call.
	Execute(ctx context.Context, call Call) (*Result, error)
}

// UserMessage returns the provider message, which is safe to show to users.
func (e *ExecutionError) UserMessage() string { return e.Message }
