package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/agentroom/core"
)

// State is a turn lifecycle state.
type State string

const (
	StatePending      State = "pending"
	StateContextBuilt State = "context_built"
	StateStreaming    State = "streaming"
	StateToolCall     State = "tool_call"
	StateFinalizing   State = "finalizing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

// Terminal reports whether s ends a turn.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

var (
	// ErrTurnInFlight is returned when the agent already has an active turn in the room.
	ErrTurnInFlight = errors.New("orchestrator: turn already in flight for agent")
	// ErrAlreadyDispatched is returned when the trigger was already dispatched to the agent.
	ErrAlreadyDispatched = errors.New("orchestrator: message already dispatched to agent")
	// ErrToolLoopLimit fails a turn that keeps requesting tools.
	ErrToolLoopLimit = errors.New("orchestrator: tool round limit exceeded")
	// ErrShuttingDown rejects new turns during shutdown.
	ErrShuttingDown = errors.New("orchestrator: shutting down")
	// ErrEmptyReply fails a turn whose model produced no text.
	ErrEmptyReply = errors.New("orchestrator: model produced an empty reply")
	// ErrTurnTimeout fails a turn that exceeded its time budget.
	ErrTurnTimeout = errors.New("orchestrator: turn timed out")

	errCancelled = errors.New("turn cancelled")
)

// TurnInfo identifies a turn in events.
type TurnInfo struct {
	ID           string `json:"turnId"`
	RoomID       string `json:"roomId"`
	AgentID      string `json:"agentId"`
	TriggerID    string `json:"messageId"`
	CallerID     string `json:"callerId"`
	ConnectionID string `json:"-"`
}

// Turn is the handle of one running or finished agent turn.
type Turn struct {
	info      TurnInfo
	startedAt time.Time
	cancel    context.CancelCauseFunc
	done      chan struct{}

	mu        sync.Mutex
	state     State
	err       error
	message   *core.Message
	cancelled bool
}

func newTurn(info TurnInfo, cancel context.CancelCauseFunc) *Turn {
	return &Turn{info: info, cancel: cancel, done: make(chan struct{}), state: StatePending, startedAt: time.Now()}
}

// Info returns the turn identity.
func (t *Turn) Info() TurnInfo { return t.info }

// ID returns the turn id.
func (t *Turn) ID() string { return t.info.ID }

// Done is closed once the turn reached a terminal state.
func (t *Turn) Done() <-chan struct{} { return t.done }

// State returns the current state.
func (t *Turn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the failure cause of a failed turn.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Message returns the persisted reply of a completed turn.
func (t *Turn) Message() *core.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.message
}

// Cancel requests cancellation. It reports false once the turn has reached
// Finalizing, after which the reply is persisted regardless.
func (t *Turn) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateFinalizing || t.state.Terminal() {
		return false
	}
	t.cancelled = true
	t.cancel(errCancelled)
	return true
}

// transition moves to next unless cancellation was requested, in which case
// it reports false.
func (t *Turn) transition(next State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	t.state = next
	return true
}

func (t *Turn) finish(state State, err error, msg *core.Message) {
	t.mu.Lock()
	t.state, t.err, t.message = state, err, msg
	t.mu.Unlock()
	close(t.done)
}
