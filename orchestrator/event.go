package orchestrator

import "github.com/hupe1980/agentroom/core"

// EventType names orchestrator events. Values match the notification
// methods the room server forwards them as.
type EventType string

const (
	EventStarted    EventType = "turn.started"
	EventDelta      EventType = "message.delta"
	EventToolCall   EventType = "tool.call"
	EventToolResult EventType = "tool.result"
	EventCompleted  EventType = "message.complete"
	EventFailed     EventType = "turn.error"
	EventCancelled  EventType = "turn.cancelled"
)

// Event is emitted by a turn. Deltas of one turn are emitted in generation
// order from a single goroutine.
type Event struct {
	Type EventType
	Turn TurnInfo
	// Seq numbers the deltas of a turn starting at 1.
	Seq   int
	Delta string
	Run   *core.ToolRun
	// Message is the persisted reply (completed, or failed with partial persistence).
	Message *core.Message
	Err     error
}

// Sink receives turn events. Emit must not block for long; it runs on the
// turn goroutine.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ev Event) { f(ev) }

type discardSink struct{}

func (discardSink) Emit(Event) {}
