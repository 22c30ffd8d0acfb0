package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/logging"
)

// Hooks observe tool runs. Any hook may be nil. OnError receives failed runs;
// OnResult receives successful ones.
type Hooks struct {
	OnCall   func(ctx context.Context, run core.ToolRun)
	OnResult func(ctx context.Context, run core.ToolRun)
	OnError  func(ctx context.Context, run core.ToolRun, err error)
}

// RunnerOptions configure a Runner.
type RunnerOptions struct {
	Logger logging.Logger
	Hooks  Hooks
}

// Call is one model-requested invocation.
type Call struct {
	Scope core.ToolScope
	// CallID is the provider's call id; a fresh one is assigned when empty.
	CallID string
	// Name is the qualified function name.
	Name string
	// Arguments is the raw JSON object produced by the model.
	Arguments string
	// Allowed lists the toolsets the calling agent may use.
	Allowed []string
	// Hooks run after the runner's own hooks for this call only.
	Hooks Hooks
}

// Runner executes calls against a Registry.
type Runner struct {
	registry *Registry
	opts     RunnerOptions
	now      func() time.Time
}

// NewRunner creates a runner.
func NewRunner(registry *Registry, optFns ...func(o *RunnerOptions)) *Runner {
	opts := RunnerOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Runner{registry: registry, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

// Registry returns the runner's registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Run executes one call. The returned run is always populated; on failure its
// Status is failed and the error is a *ToolError.
func (r *Runner) Run(ctx context.Context, call Call) (core.ToolRun, error) {
	run := core.ToolRun{
		RunID:     core.NewID(),
		CallID:    call.CallID,
		TurnID:    call.Scope.TurnID,
		RoomID:    call.Scope.RoomID,
		ActorID:   call.Scope.ActorID,
		Tool:      call.Name,
		Status:    core.ToolRunRunning,
		StartedAt: r.now(),
	}
	if run.CallID == "" {
		run.CallID = core.NewID()
	}
	if ts, fn, ok := SplitName(call.Name); ok {
		run.Tool, run.Function = ts, fn
	}

	args, parseErr := parseArguments(call.Name, call.Arguments)
	run.Arguments = args

	for _, h := range []Hooks{r.opts.Hooks, call.Hooks} {
		if h.OnCall != nil {
			h.OnCall(ctx, run)
		}
	}

	result, err := r.execute(ctx, call, run, args, parseErr)
	run.FinishedAt = r.now()
	if err != nil {
		var toolErr *ToolError
		if !errors.As(err, &toolErr) {
			toolErr = &ToolError{Tool: call.Name, Message: err.Error(), Code: CodeExecution}
		}
		run.Status = core.ToolRunFailed
		run.Error = toolErr.Message
		r.opts.Logger.Warn("tool.run.failed", "run_id", run.RunID, "tool", call.Name, "code", toolErr.Code, "error", toolErr.Message)
		for _, h := range []Hooks{r.opts.Hooks, call.Hooks} {
			if h.OnError != nil {
				h.OnError(ctx, run, toolErr)
			}
		}
		return run, toolErr
	}

	run.Status = core.ToolRunSucceeded
	run.Result = result
	r.opts.Logger.Debug("tool.run.succeeded", "run_id", run.RunID, "tool", call.Name, "duration_ms", run.Duration().Milliseconds())
	for _, h := range []Hooks{r.opts.Hooks, call.Hooks} {
		if h.OnResult != nil {
			h.OnResult(ctx, run)
		}
	}
	return run, nil
}

func (r *Runner) execute(ctx context.Context, call Call, run core.ToolRun, args map[string]any, parseErr error) (result any, err error) {
	if parseErr != nil {
		return nil, parseErr
	}
	toolset, fn, err := r.registry.Resolve(call.Name)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(call.Allowed, toolset) {
		return nil, NewToolError(call.Name, "toolset "+toolset+" is not enabled for this agent", CodeForbidden)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.opts.Logger.Error("tool.run.panic", "run_id", run.RunID, "tool", call.Name, "panic", fmt.Sprint(rec))
			result, err = nil, &ToolError{Tool: call.Name, Message: fmt.Sprintf("panic: %v", rec), Code: CodePanic}
		}
	}()

	logger := logging.With(r.opts.Logger, "run_id", run.RunID, "turn_id", run.TurnID)
	toolCtx := core.NewToolContext(ctx, call.Scope, run.RunID, run.CallID, logger)
	return fn.Call(toolCtx, args)
}

func parseArguments(name, raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, &ToolError{Tool: name, Message: "arguments are not a JSON object: " + err.Error(), Code: CodeValidation}
	}
	return args, nil
}
