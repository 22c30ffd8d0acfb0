package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentroom/logging"
)

// ToolContext is handed to tool functions. It identifies the room, the human
// (or agent) whose message started the turn and the agent actor calling the
// tool, and carries the run/call correlation ids.
type ToolContext struct {
	ctx      context.Context
	roomID   string
	callerID string
	actorID  string
	turnID   string
	runID    string
	callID   string
	logger   logging.Logger
}

// ToolScope carries the identity portion of a ToolContext.
type ToolScope struct {
	RoomID   string
	CallerID string
	ActorID  string
	TurnID   string
}

// NewToolContext binds a tool invocation to ctx and scope. The logger is
// scoped to the room, agent and run; a nil logger discards.
func NewToolContext(ctx context.Context, scope ToolScope, runID, callID string, logger logging.Logger) *ToolContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ToolContext{
		ctx:      ctx,
		roomID:   scope.RoomID,
		callerID: scope.CallerID,
		actorID:  scope.ActorID,
		turnID:   scope.TurnID,
		runID:    runID,
		callID:   callID,
		logger:   logging.With(logger, "room_id", scope.RoomID, "actor_id", scope.ActorID, "run_id", runID),
	}
}

// Logger returns the invocation's logger.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// Context returns the context governing the invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// RoomID returns the room the turn runs in.
func (tc *ToolContext) RoomID() string { return tc.roomID }

// CallerID returns the actor whose message triggered the turn.
func (tc *ToolContext) CallerID() string { return tc.callerID }

// ActorID returns the agent actor invoking the tool.
func (tc *ToolContext) ActorID() string { return tc.actorID }

// TurnID returns the orchestrator turn id.
func (tc *ToolContext) TurnID() string { return tc.turnID }

// RunID returns the tool run id.
func (tc *ToolContext) RunID() string { return tc.runID }

// CallID returns the provider call id.
func (tc *ToolContext) CallID() string { return tc.callID }

// Validate checks that the identity fields are populated.
func (tc *ToolContext) Validate() error {
	if tc.roomID == "" || tc.actorID == "" || tc.runID == "" {
		return fmt.Errorf("%w: tool context missing room, actor or run id", ErrInvalid)
	}
	return nil
}
