package tool

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/internal/util"
)

// FunctionTool adapts a plain Go function to Function.
//
// Errors are normalized so callers always see *ToolError:
//
//	VALIDATION_ERROR  arguments do not match the schema
//	EXECUTION_ERROR   the function returned a plain error
//
// A *ToolError returned by the function is forwarded unchanged.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

var _ Function = (*FunctionTool)(nil)

// NewFunctionTool constructs a FunctionTool from an explicit schema.
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &FunctionTool{name: name, description: description, parameters: parameters, fn: fn}
}

// NewFunctionToolFromStruct derives the schema from an argument struct.
//
//	type historyArgs struct {
//	  Limit int `json:"limit,omitempty" description:"Maximum messages"`
//	}
//
//	NewFunctionToolFromStruct("history", "Read recent messages", historyArgs{}, fn)
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

func (t *FunctionTool) Name() string               { return t.name }
func (t *FunctionTool) Description() string        { return t.description }
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args then invokes the wrapped function.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	start := time.Now()
	log := toolCtx.Logger()
	log.Debug("tool.call.start", "tool", t.name, "call_id", toolCtx.CallID())

	if args == nil {
		args = map[string]any{}
	}
	if err := util.ValidateParameters(args, t.parameters); err != nil {
		log.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())
		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
	}

	result, err := t.fn(toolCtx, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			log.Error("tool.call.error", "tool", t.name, "code", toolErr.Code, "error", toolErr.Message)
			return nil, toolErr
		}
		log.Error("tool.call.error", "tool", t.name, "error", err.Error())
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: CodeExecution}
	}

	log.Debug("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}
