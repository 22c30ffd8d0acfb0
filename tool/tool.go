// Package tool implements the function calling subsystem: toolsets of named
// functions with schema-validated arguments, a registry that exposes them to
// models under qualified names, and a runner that executes calls with hooks
// and panic recovery.
package tool

import (
	"fmt"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/internal/util"
)

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeForbidden  = "FORBIDDEN"
	CodePanic      = "PANIC"
)

// Function is one callable capability of a toolset.
//
// Call receives arguments decoded from the model's JSON and already
// validated against Parameters. Implementations must be safe for concurrent
// use; the same function serves every room.
type Function interface {
	Name() string
	Description() string
	// Parameters is a JSON Schema object describing the arguments.
	Parameters() map[string]any
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution. It is fed
// back to the model rather than failing the turn.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
