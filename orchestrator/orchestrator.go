// Package orchestrator drives agent turns: context assembly, streamed
// generation, the tool-call sub-loop and finalization.
//
// A turn moves through
//
//	Pending → ContextBuilt → Streaming → {ToolCall}* → Finalizing → Completed | Failed | Cancelled
//
// At most one turn is active per (room, agent) and each (message, agent)
// pair is dispatched at most once within the dispatch TTL.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/logging"
	"github.com/hupe1980/agentroom/metrics"
	"github.com/hupe1980/agentroom/model"
	"github.com/hupe1980/agentroom/prompt"
	"github.com/hupe1980/agentroom/tool"
)

// Store is the part of the gateway a turn needs.
type Store interface {
	GetRoom(ctx context.Context, roomID string) (*core.Room, error)
	GetActor(ctx context.Context, actorID string) (*core.Actor, error)
	GetAgentDefinition(ctx context.Context, definitionID string) (*core.AgentDefinition, error)
	AppendMessage(ctx context.Context, msg core.Message) (core.Message, error)
}

// ContextBuilder assembles model context.
type ContextBuilder interface {
	Assemble(ctx context.Context, in prompt.Input) ([]core.Content, error)
}

// Rememberer writes finalized replies to long-term memory.
type Rememberer interface {
	Remember(ctx context.Context, msg core.Message) error
}

// Dependencies are the collaborators of an Orchestrator. Tools and Memory
// may be nil.
type Dependencies struct {
	Store     Store
	Assembler ContextBuilder
	Models    *model.Registry
	Tools     *tool.Runner
	Memory    Rememberer
}

// Options configure an Orchestrator.
type Options struct {
	// MaxToolRounds bounds model → tool → model iterations per turn.
	MaxToolRounds int
	// TurnTimeout fails turns running longer; 0 disables it.
	TurnTimeout time.Duration
	// PersistPartialOnFailure stores the text streamed so far when a turn fails.
	PersistPartialOnFailure bool
	// DispatchTTL is how long a (message, agent) dispatch is remembered.
	DispatchTTL time.Duration
	Logger      logging.Logger
	Metrics     *metrics.Metrics
}

// TurnRequest starts one turn.
type TurnRequest struct {
	RoomID       string
	AgentID      string
	Trigger      core.Message
	ConnectionID string
	Sink         Sink
}

// Orchestrator runs turns on their own goroutines.
type Orchestrator struct {
	deps Dependencies
	opts Options

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc
	wg         sync.WaitGroup

	mu         sync.Mutex
	closing    bool
	active     map[string]*Turn // room/agent -> turn
	turns      map[string]*Turn // turn id -> turn
	dispatched map[string]time.Time
	lastPrune  time.Time
}

// New creates an Orchestrator.
func New(deps Dependencies, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxToolRounds: 8,
		DispatchTTL:   10 * time.Minute,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Orchestrator{
		deps:       deps,
		opts:       opts,
		baseCtx:    ctx,
		baseCancel: cancel,
		active:     map[string]*Turn{},
		turns:      map[string]*Turn{},
		dispatched: map[string]time.Time{},
	}
}

func activeKey(roomID, agentID string) string { return roomID + "\x00" + agentID }

// Start launches a turn for (req.RoomID, req.AgentID) answering req.Trigger.
// The turn outlives ctx; use Turn.Cancel or the Cancel* methods to stop it.
func (o *Orchestrator) Start(_ context.Context, req TurnRequest) (*Turn, error) {
	if req.RoomID == "" || req.AgentID == "" || req.Trigger.ID == "" {
		return nil, fmt.Errorf("%w: turn needs room, agent and trigger message", core.ErrInvalid)
	}
	if req.Sink == nil {
		req.Sink = discardSink{}
	}

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return nil, ErrShuttingDown
	}
	now := time.Now()
	o.pruneLocked(now)
	dispatchKey := req.Trigger.ID + "\x00" + req.AgentID
	if exp, ok := o.dispatched[dispatchKey]; ok && now.Before(exp) {
		o.mu.Unlock()
		return nil, ErrAlreadyDispatched
	}
	key := activeKey(req.RoomID, req.AgentID)
	if _, busy := o.active[key]; busy {
		o.mu.Unlock()
		return nil, ErrTurnInFlight
	}

	ctx, cancel := context.WithCancelCause(o.baseCtx)
	t := newTurn(TurnInfo{
		ID:           core.NewID(),
		RoomID:       req.RoomID,
		AgentID:      req.AgentID,
		TriggerID:    req.Trigger.ID,
		CallerID:     req.Trigger.AuthorID,
		ConnectionID: req.ConnectionID,
	}, cancel)
	o.dispatched[dispatchKey] = now.Add(o.opts.DispatchTTL)
	o.active[key] = t
	o.turns[t.info.ID] = t
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer cancel(nil)
		o.run(ctx, t, req)
	}()
	return t, nil
}

func (o *Orchestrator) pruneLocked(now time.Time) {
	if now.Sub(o.lastPrune) < o.opts.DispatchTTL/4 {
		return
	}
	o.lastPrune = now
	for k, exp := range o.dispatched {
		if !now.Before(exp) {
			delete(o.dispatched, k)
		}
	}
}

func (o *Orchestrator) release(t *Turn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := activeKey(t.info.RoomID, t.info.AgentID)
	if o.active[key] == t {
		delete(o.active, key)
	}
	delete(o.turns, t.info.ID)
}

// Turn returns an active turn by id.
func (o *Orchestrator) Turn(turnID string) (*Turn, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.turns[turnID]
	return t, ok
}

// Active lists the active turns of a room.
func (o *Orchestrator) Active(roomID string) []TurnInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []TurnInfo
	for _, t := range o.turns {
		if t.info.RoomID == roomID {
			out = append(out, t.info)
		}
	}
	return out
}

// CancelTurn cancels one turn in roomID.
func (o *Orchestrator) CancelTurn(roomID, turnID string) bool {
	t, ok := o.Turn(turnID)
	if !ok || t.info.RoomID != roomID {
		return false
	}
	return t.Cancel()
}

// CancelMatching cancels the room's turns selected by match and returns how
// many were cancelled.
func (o *Orchestrator) CancelMatching(roomID string, match func(TurnInfo) bool) int {
	o.mu.Lock()
	var targets []*Turn
	for _, t := range o.turns {
		if t.info.RoomID == roomID && (match == nil || match(t.info)) {
			targets = append(targets, t)
		}
	}
	o.mu.Unlock()

	n := 0
	for _, t := range targets {
		if t.Cancel() {
			n++
		}
	}
	return n
}

// CancelAgent cancels the agent's turns in the room.
func (o *Orchestrator) CancelAgent(roomID, agentID string) int {
	return o.CancelMatching(roomID, func(ti TurnInfo) bool { return ti.AgentID == agentID })
}

// CancelCaller cancels turns triggered by callerID in the room.
func (o *Orchestrator) CancelCaller(roomID, callerID string) int {
	return o.CancelMatching(roomID, func(ti TurnInfo) bool { return ti.CallerID == callerID })
}

// CancelRoom cancels every turn in the room.
func (o *Orchestrator) CancelRoom(roomID string) int { return o.CancelMatching(roomID, nil) }

// Shutdown rejects new turns, cancels running ones and waits for them or ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()
	o.baseCancel(ErrShuttingDown)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until all turns have finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// turnRun is the mutable state of one executing turn.
type turnRun struct {
	t      *Turn
	sink   Sink
	logger logging.Logger
	text   strings.Builder
	deltas int
}

func (r *turnRun) emit(ev Event) {
	ev.Turn = r.t.info
	r.sink.Emit(ev)
}

func (o *Orchestrator) run(ctx context.Context, t *Turn, req TurnRequest) {
	if o.opts.TurnTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(ctx, o.opts.TurnTimeout, ErrTurnTimeout)
		defer stop()
	}
	r := &turnRun{
		t:      t,
		sink:   req.Sink,
		logger: logging.With(o.opts.Logger, "turn_id", t.info.ID, "room_id", t.info.RoomID, "agent_id", t.info.AgentID),
	}

	r.logger.Debug("turn.start", "message_id", req.Trigger.ID)
	r.emit(Event{Type: EventStarted})

	msg, err := o.execute(ctx, r, req)
	state := StateCompleted
	switch {
	case err == nil:
	case o.cancelled(ctx, t):
		state = StateCancelled
	default:
		state = StateFailed
		if cause := context.Cause(ctx); errors.Is(cause, ErrTurnTimeout) {
			err = ErrTurnTimeout
		}
	}

	var result *core.Message
	switch state {
	case StateCompleted:
		result = msg
		r.emit(Event{Type: EventCompleted, Message: msg})
		r.logger.Info("turn.completed", "message_id", msg.ID, "deltas", r.deltas)
		o.remember(ctx, r, *msg)
	case StateCancelled:
		err = nil
		r.emit(Event{Type: EventCancelled})
		r.logger.Info("turn.cancelled", "deltas", r.deltas)
	case StateFailed:
		result = o.persistPartial(ctx, r, req)
		r.emit(Event{Type: EventFailed, Err: err, Message: result})
		r.logger.Warn("turn.failed", "error", err.Error())
	}
	o.release(t)
	t.finish(state, err, result)
	o.opts.Metrics.TurnFinished(string(state), time.Since(t.startedAt))
}

// cancelled reports whether the turn ended because of a cancel request or
// shutdown rather than a failure.
func (o *Orchestrator) cancelled(ctx context.Context, t *Turn) bool {
	t.mu.Lock()
	requested := t.cancelled
	t.mu.Unlock()
	if requested {
		return true
	}
	cause := context.Cause(ctx)
	return errors.Is(cause, errCancelled) || errors.Is(cause, ErrShuttingDown)
}

func (o *Orchestrator) execute(ctx context.Context, r *turnRun, req TurnRequest) (*core.Message, error) {
	agent, def, m, err := o.resolveAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	room, err := o.deps.Store.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	var user *core.Actor
	if u, err := o.deps.Store.GetActor(ctx, req.Trigger.AuthorID); err == nil {
		user = u
	}

	contents, err := o.deps.Assembler.Assemble(ctx, prompt.Input{
		Room:         *room,
		Agent:        *agent,
		Definition:   def,
		User:         user,
		ConnectionID: req.ConnectionID,
		Trigger:      req.Trigger,
	})
	if err != nil {
		return nil, fmt.Errorf("assemble context: %w", err)
	}
	if !r.t.transition(StateContextBuilt) {
		return nil, errCancelled
	}

	var tools []model.ToolDefinition
	var allowed []string
	if o.deps.Tools != nil && def != nil && m.Info().SupportsTools {
		allowed = def.Tools
		tools = o.deps.Tools.Registry().Definitions(allowed)
	}

	for round := 0; ; round++ {
		if !r.t.transition(StateStreaming) {
			return nil, errCancelled
		}
		final, err := o.stream(ctx, r, m, model.Request{Contents: contents, Tools: tools, Stream: true})
		if err != nil {
			return nil, err
		}
		calls := final.FunctionCalls()
		if len(calls) == 0 {
			break
		}
		if round >= o.opts.MaxToolRounds {
			return nil, ErrToolLoopLimit
		}
		contents = append(contents, final)
		results, err := o.runTools(ctx, r, req, calls, allowed)
		if err != nil {
			return nil, err
		}
		contents = append(contents, results)
	}

	text := strings.TrimSpace(r.text.String())
	if text == "" {
		return nil, ErrEmptyReply
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !r.t.transition(StateFinalizing) {
		return nil, errCancelled
	}

	msg, err := o.deps.Store.AppendMessage(context.WithoutCancel(ctx), core.Message{
		RoomID:     req.RoomID,
		AuthorID:   agent.ID,
		AuthorKind: core.ActorAgent,
		Role:       core.RoleAssistant,
		Parts:      core.TextParts(r.text.String()),
		ReplyTo:    req.Trigger.ID,
		TurnID:     r.t.info.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("persist reply: %w", err)
	}
	o.opts.Metrics.MessagePersisted(string(core.ActorAgent))
	return &msg, nil
}

func (o *Orchestrator) resolveAgent(ctx context.Context, agentID string) (*core.Actor, *core.AgentDefinition, model.Model, error) {
	agent, err := o.deps.Store.GetActor(ctx, agentID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load agent: %w", err)
	}
	if !agent.IsAgent() {
		return nil, nil, nil, fmt.Errorf("%w: actor %s is not an agent", core.ErrInvalid, agentID)
	}
	var def *core.AgentDefinition
	if d, err := o.deps.Store.GetAgentDefinition(ctx, agent.DefinitionID()); err == nil {
		def = d
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, nil, nil, fmt.Errorf("load agent definition: %w", err)
	}
	modelName := ""
	if def != nil {
		modelName = def.Model
	}
	m, err := o.deps.Models.Resolve(modelName)
	if err != nil {
		return nil, nil, nil, err
	}
	return agent, def, m, nil
}

// stream runs one generation round, forwarding deltas, and returns the final
// assistant content.
func (o *Orchestrator) stream(ctx context.Context, r *turnRun, m model.Model, req model.Request) (core.Content, error) {
	out, errCh := m.Generate(ctx, req)

	var final *core.Content
	roundDeltas := 0
	for resp := range out {
		if ctx.Err() != nil {
			continue // drain so the provider goroutine can exit
		}
		if resp.Partial {
			if d := resp.Delta(); d != "" {
				roundDeltas++
				r.delta(o, d)
			}
			continue
		}
		c := resp.Content
		final = &c
	}
	if err := <-errCh; err != nil {
		return core.Content{}, fmt.Errorf("generate: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return core.Content{}, err
	}
	if final == nil {
		return core.Content{}, fmt.Errorf("generate: stream ended without a final response")
	}
	// Providers that do not stream deliver the text on the final chunk only.
	if roundDeltas == 0 {
		if t := final.Text(); t != "" {
			r.delta(o, t)
		}
	}
	return *final, nil
}

func (r *turnRun) delta(o *Orchestrator, text string) {
	r.deltas++
	r.text.WriteString(text)
	r.emit(Event{Type: EventDelta, Seq: r.deltas, Delta: text})
	o.opts.Metrics.Delta()
}

// runTools executes calls sequentially. Each call runs on a context detached
// from cancellation; when the turn is cancelled meanwhile, its result is
// dropped and the turn ends.
func (o *Orchestrator) runTools(ctx context.Context, r *turnRun, req TurnRequest, calls []core.FunctionCall, allowed []string) (core.Content, error) {
	results := core.Content{Role: "tool"}
	for _, fc := range calls {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if !r.t.transition(StateToolCall) {
			return results, errCancelled
		}

		call := tool.Call{
			Scope: core.ToolScope{
				RoomID:   req.RoomID,
				CallerID: req.Trigger.AuthorID,
				ActorID:  req.AgentID,
				TurnID:   r.t.info.ID,
			},
			CallID:    fc.ID,
			Name:      fc.Name,
			Arguments: fc.Arguments,
			Allowed:   allowed,
			Hooks: tool.Hooks{
				OnCall: func(_ context.Context, run core.ToolRun) {
					if ctx.Err() == nil {
						r.emit(Event{Type: EventToolCall, Run: &run})
					}
				},
				OnResult: func(_ context.Context, run core.ToolRun) { o.toolDone(ctx, r, run) },
				OnError:  func(_ context.Context, run core.ToolRun, _ error) { o.toolDone(ctx, r, run) },
			},
		}

		var resp core.FunctionResponse
		if o.deps.Tools == nil {
			resp = core.FunctionResponse{ID: fc.ID, Name: fc.Name, Error: "tools are not available"}
		} else {
			run, err := o.deps.Tools.Run(context.WithoutCancel(ctx), call)
			resp = core.FunctionResponse{ID: run.CallID, Name: fc.Name, Response: run.Result}
			if err != nil {
				resp.Error = err.Error()
			}
		}
		if err := ctx.Err(); err != nil {
			r.logger.Debug("turn.tool_result_dropped", "tool", fc.Name)
			return results, err
		}
		results.Parts = append(results.Parts, core.FunctionResponsePart{FunctionResponse: resp})
	}
	return results, nil
}

func (o *Orchestrator) toolDone(ctx context.Context, r *turnRun, run core.ToolRun) {
	o.opts.Metrics.ToolRun(string(run.Status))
	if ctx.Err() == nil {
		r.emit(Event{Type: EventToolResult, Run: &run})
	}
}

func (o *Orchestrator) persistPartial(ctx context.Context, r *turnRun, req TurnRequest) *core.Message {
	if !o.opts.PersistPartialOnFailure || strings.TrimSpace(r.text.String()) == "" {
		return nil
	}
	msg, err := o.deps.Store.AppendMessage(context.WithoutCancel(ctx), core.Message{
		RoomID:     req.RoomID,
		AuthorID:   req.AgentID,
		AuthorKind: core.ActorAgent,
		Role:       core.RoleAssistant,
		Parts:      core.TextParts(r.text.String()),
		ReplyTo:    req.Trigger.ID,
		TurnID:     r.t.info.ID,
	})
	if err != nil {
		r.logger.Error("turn.persist_partial_failed", "error", err.Error())
		return nil
	}
	return &msg
}

func (o *Orchestrator) remember(ctx context.Context, r *turnRun, msg core.Message) {
	if o.deps.Memory == nil {
		return
	}
	if err := o.deps.Memory.Remember(context.WithoutCancel(ctx), msg); err != nil {
		r.logger.Warn("turn.remember_failed", "message_id", msg.ID, "error", err.Error())
	}
}
