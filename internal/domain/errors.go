package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for routing and user display.
type Kind string

const (
	KindInputRejected       Kind = "input_rejected"
	KindUnauthorized        Kind = "unauthorized"
	KindKBUnbound           Kind = "kb_unbound"
	KindKBBusy              Kind = "kb_busy"
	KindGitConflict         Kind = "git_conflict"
	KindGitAuthFailed       Kind = "git_auth_failed"
	KindGitNetwork          Kind = "git_network"
	KindAgentTimeout        Kind = "agent_timeout"
	KindAgentBudgetExceeded Kind = "agent_budget_exceeded"
	KindAgentToolFailed     Kind = "agent_tool_failed"
	KindMcpUnavailable      Kind = "mcp_unavailable"
	KindInvalidPath         Kind = "invalid_path"
	KindRateLimited         Kind = "rate_limited"
	KindInternal            Kind = "internal"
)

// Error is the taxonomy error carried across service boundaries. The wrapped
// cause may contain internals; UserMessage never does.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a taxonomy error.
func E(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Errf builds a taxonomy error with a formatted message and no cause.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or KindInternal for anything else.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// UserMessage returns the text shown to the end user for err. Causes are
// never interpolated: only the curated per-kind message surfaces.
func UserMessage(err error) string {
	var de *Error
	if !errors.As(err, &de) {
		return "An internal error occurred. It has been logged."
	}
	switch de.Kind {
	case KindInputRejected:
		return "Invalid input: " + de.Msg
	case KindUnauthorized:
		return "You are not authorized to use this bot."
	case KindKBUnbound:
		return "No knowledge base is bound. Use /setkb <name or remote URL> first."
	case KindKBBusy:
		return "Your knowledge base is busy with another operation. Try again shortly."
	case KindGitConflict:
		return "The knowledge base has diverged from its remote. Resolve the conflict manually and retry."
	case KindGitAuthFailed:
		return "Git authentication failed. Update your credentials with /creds set."
	case KindGitNetwork:
		return "Could not reach the Git remote. Check connectivity and retry."
	case KindAgentTimeout:
		return "The agent ran out of time. Try a smaller request."
	case KindAgentBudgetExceeded:
		return "The agent hit its step limit before finishing. Try a simpler request."
	case KindAgentToolFailed:
		return "The agent could not complete the task: " + de.Msg
	case KindMcpUnavailable:
		return "Some tools are temporarily unavailable; the result may be incomplete."
	case KindInvalidPath:
		return "The requested path is outside the knowledge base."
	case KindRateLimited:
		return "Too many requests. Please slow down."
	default:
		return "An internal error occurred. It has been logged."
	}
}
