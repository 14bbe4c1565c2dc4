package tools

import "fmt"

// ErrToolUnavailable is returned when a call targets a tool that is not
// in the calling agent's subset, is not configured, or does not exist.
// It is a capability mismatch, not a transient failure.
type ErrToolUnavailable struct {
	ToolName string
	AgentID  string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	if e.AgentID != "" {
		return fmt.Sprintf("tool %q is not available to agent %q", e.ToolName, e.AgentID)
	}
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}
