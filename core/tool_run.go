package core

import "time"

// ToolRunStatus is the lifecycle state of a ToolRun.
type ToolRunStatus string

const (
	ToolRunRunning   ToolRunStatus = "running"
	ToolRunSucceeded ToolRunStatus = "succeeded"
	ToolRunFailed    ToolRunStatus = "failed"
)

// ToolRun is the transient record of one tool function invocation within a
// turn. It is surfaced as events and never persisted.
type ToolRun struct {
	RunID      string         `json:"runId"`
	CallID     string         `json:"callId"`
	TurnID     string         `json:"turnId,omitempty"`
	RoomID     string         `json:"roomId,omitempty"`
	ActorID    string         `json:"actorId,omitempty"`
	Tool       string         `json:"tool"`
	Function   string         `json:"function"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Status     ToolRunStatus  `json:"status"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt,omitempty"`
}

// Duration returns the elapsed run time (zero while running).
func (r ToolRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
