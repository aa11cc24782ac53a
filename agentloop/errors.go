package agentloop

import (
	"errors"
	"fmt"
	"io/fs"
)

// ToolErrorKind classifies a tool failure.
type ToolErrorKind string

const (
	ToolUnknown          ToolErrorKind = "unknown_tool"
	ToolInvalidArguments ToolErrorKind = "invalid_arguments"
	ToolTimeout          ToolErrorKind = "timeout"
	ToolSpawnError       ToolErrorKind = "spawn_error"
	ToolPermissionDenied ToolErrorKind = "permission_denied"
	ToolNotFound         ToolErrorKind = "not_found"
	ToolNotUTF8          ToolErrorKind = "not_utf8"
	ToolExecutionFailed  ToolErrorKind = "execution_failed"
)

// ToolError is returned by the registry and by tools. The session turns it
// into a failure result for the model; it never aborts a turn.
type ToolError struct {
	Kind    ToolErrorKind
	Tool    string
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s failed (%s): %s", e.Tool, e.Kind, msg)
}

func (e *ToolError) Unwrap() error { return e.Err }

func newToolError(kind ToolErrorKind, tool, msg string, err error) *ToolError {
	return &ToolError{Kind: kind, Tool: tool, Message: msg, Err: err}
}

// toolErrorFromFS maps filesystem errors onto tool error kinds.
func toolErrorFromFS(tool, path string, err error) *ToolError {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return newToolError(ToolNotFound, tool, fmt.Sprintf("no such file: %s", path), err)
	case errors.Is(err, fs.ErrPermission):
		return newToolError(ToolPermissionDenied, tool, fmt.Sprintf("permission denied: %s", path), err)
	default:
		return newToolError(ToolExecutionFailed, tool, err.Error(), err)
	}
}

// ToolErrorKindOf returns the kind of a ToolError anywhere in err's chain,
// or "" when there is none.
func ToolErrorKindOf(err error) ToolErrorKind {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// AgentErrorKind classifies a session-level failure.
type AgentErrorKind string

const (
	IterationLimitReached AgentErrorKind = "iteration_limit_reached"
	ProviderFailure       AgentErrorKind = "provider_failure"
	Aborted               AgentErrorKind = "aborted"
	TurnInProgress        AgentErrorKind = "turn_in_progress"
	InvalidBudget         AgentErrorKind = "invalid_budget"
)

// AgentError is returned by Session.Run. IterationLimitReached is never
// returned; it is reported on TurnResult.Limit.
type AgentError struct {
	Kind    AgentErrorKind
	Message string
	Err     error
}

func (e *AgentError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("agent %s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("agent %s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("agent %s: %v", e.Kind, e.Err)
	}
	return "agent " + string(e.Kind)
}

func (e *AgentError) Unwrap() error { return e.Err }
