// Package errs defines the engine's error taxonomy, grounded on the
// teacher's provider-error pattern (internal/agent/providers/errors.go) but
// generalized to the full kind set of spec.md §7.
package errs

import "fmt"

// Kind classifies an error for propagation-policy decisions and for
// user-visible reason codes.
type Kind string

const (
	UserInput       Kind = "user_input"
	Auth            Kind = "auth"
	Config          Kind = "config"
	BackendTransient Kind = "backend_transient"
	BackendFatal    Kind = "backend_fatal"
	ContextOverflow Kind = "context_overflow"
	Parse           Kind = "parse"
	ToolPermission  Kind = "tool_permission"
	ToolSchema      Kind = "tool_schema"
	ToolExecution   Kind = "tool_execution"
	ToolTimeout     Kind = "tool_timeout"
	McpInit         Kind = "mcp_init"
	McpRPC          Kind = "mcp_rpc"
	McpTimeout      Kind = "mcp_timeout"
	IO              Kind = "io"
	Cancelled       Kind = "cancelled"
	Internal        Kind = "internal"
)

// Retryable reports whether errors of this kind are safe to retry
// transparently (used by the C10 retry-with-backoff step).
func (k Kind) Retryable() bool {
	return k == BackendTransient
}

// QError is the engine's wrapped error type: a stable reason code, a longer
// human description, and the underlying cause.
type QError struct {
	Kind       Kind
	Reason     string
	ReasonDesc string
	Cause      error
}

func (e *QError) Error() string {
	if e.ReasonDesc != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.ReasonDesc)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
	}
	return e.Reason
}

func (e *QError) Unwrap() error { return e.Cause }

// New constructs a QError with reason defaulted to the kind string.
func New(kind Kind, reasonDesc string, cause error) *QError {
	return &QError{Kind: kind, Reason: string(kind), ReasonDesc: reasonDesc, Cause: cause}
}

// Wrap is New with a custom stable reason code distinct from the kind.
func Wrap(kind Kind, reason, reasonDesc string, cause error) *QError {
	return &QError{Kind: kind, Reason: reason, ReasonDesc: reasonDesc, Cause: cause}
}

// Is reports whether err is a QError of the given kind.
func Is(err error, kind Kind) bool {
	qe, ok := err.(*QError)
	return ok && qe.Kind == kind
}
