package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/internal/testutil"
	"github.com/hupe1980/agentroom/model"
	"github.com/hupe1980/agentroom/prompt"
	"github.com/hupe1980/agentroom/store/memstore"
	"github.com/hupe1980/agentroom/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) of(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	store   *memstore.Store
	mock    *model.MockModel
	orch    *Orchestrator
	trigger core.Message

	toolEntered chan struct{}
	toolRelease chan struct{}
}

func newFixture(t *testing.T, steps []model.Step, optFns ...func(o *Options)) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:       memstore.New(),
		mock:        model.NewMockModel("mock", steps...),
		toolEntered: make(chan struct{}, 1),
		toolRelease: make(chan struct{}),
	}

	require.NoError(t, f.store.PutActor(ctx, core.NewUserActor("u1", "ann", "Ann", core.UserProfile{Name: "Ann"})))
	require.NoError(t, f.store.PutAgentDefinition(ctx, core.AgentDefinition{ID: "d1", Name: "Helper", Instructions: "Personality: terse", Tools: []string{"math"}}))
	require.NoError(t, f.store.PutActor(ctx, core.NewAgentActor("a1", "helper", "Helper", "d1")))
	require.NoError(t, testutil.NewRoomBuilder("r1").Title("General").Members("u1", "a1").Store(ctx, f.store))
	var err error
	f.trigger, err = f.store.AppendMessage(ctx, testutil.UserMessage("r1", "u1", "hello there"))
	require.NoError(t, err)

	assembler, err := prompt.New(f.store, nil)
	require.NoError(t, err)
	models := model.NewRegistry()
	models.Register("mock", f.mock)

	type addArgs struct {
		A float64 `json:"a"`
		B float64 `json:"b"`
	}
	reg, err := tool.NewRegistry(tool.Toolset{Name: "math", Functions: []tool.Function{
		tool.NewFunctionToolFromStruct("add", "add", addArgs{}, func(_ *core.ToolContext, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		}),
		tool.NewFunctionTool("fail", "always fails", nil, func(*core.ToolContext, map[string]any) (any, error) {
			return nil, errors.New("division by zero")
		}),
		tool.NewFunctionTool("wait", "blocks until released", nil, func(*core.ToolContext, map[string]any) (any, error) {
			f.toolEntered <- struct{}{}
			<-f.toolRelease
			return "done", nil
		}),
	}})
	require.NoError(t, err)

	f.orch = New(Dependencies{
		Store:     f.store,
		Assembler: assembler,
		Models:    models,
		Tools:     tool.NewRunner(reg),
	}, optFns...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, f.orch.Shutdown(ctx))
	})
	return f
}

func (f *fixture) start(t *testing.T, sink Sink) *Turn {
	t.Helper()
	turn, err := f.orch.Start(context.Background(), TurnRequest{RoomID: "r1", AgentID: "a1", Trigger: f.trigger, ConnectionID: "c1", Sink: sink})
	require.NoError(t, err)
	return turn
}

func (f *fixture) agentMessages(t *testing.T) []core.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), "r1", 0, 0)
	require.NoError(t, err)
	var out []core.Message
	for _, m := range msgs {
		if m.AuthorKind == core.ActorAgent {
			out = append(out, m)
		}
	}
	return out
}

func wait(t *testing.T, turn *Turn) {
	t.Helper()
	select {
	case <-turn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not finish")
	}
}

func TestTurnCompletes(t *testing.T) {
	f := newFixture(t, []model.Step{{Deltas: []string{"Hi", " Ann", "!"}}})
	rec := &recorder{}
	turn := f.start(t, rec)
	wait(t, turn)

	require.Equal(t, StateCompleted, turn.State())
	assert.Equal(t, []EventType{EventStarted, EventDelta, EventDelta, EventDelta, EventCompleted}, rec.types())

	deltas := rec.of(EventDelta)
	for i, d := range deltas {
		assert.Equal(t, i+1, d.Seq)
		assert.Equal(t, turn.ID(), d.Turn.ID)
	}

	msgs := f.agentMessages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi Ann!", msgs[0].Text())
	assert.Equal(t, f.trigger.ID, msgs[0].ReplyTo)
	assert.Equal(t, turn.ID(), msgs[0].TurnID)
	assert.Equal(t, core.RoleAssistant, msgs[0].Role)
	assert.Equal(t, msgs[0].ID, turn.Message().ID)

	reqs := f.mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "system", reqs[0].Contents[0].Role)
	assert.Contains(t, reqs[0].Contents[0].Text(), "Personality:\nterse")
	assert.Equal(t, "hello there", reqs[0].Contents[len(reqs[0].Contents)-1].Text())
	require.Len(t, reqs[0].Tools, 3)
	assert.Equal(t, "math__add", reqs[0].Tools[0].Function.Name)
}

func TestExactlyOnceDispatch(t *testing.T) {
	f := newFixture(t, nil)
	turn := f.start(t, nil)
	wait(t, turn)

	_, err := f.orch.Start(context.Background(), TurnRequest{RoomID: "r1", AgentID: "a1", Trigger: f.trigger})
	assert.ErrorIs(t, err, ErrAlreadyDispatched)
	assert.Len(t, f.agentMessages(t), 1)
}

func TestOneActiveTurnPerRoomAgent(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, []model.Step{{Deltas: []string{"thinking"}, Block: true, Started: started}})
	turn := f.start(t, nil)
	<-started

	other := f.trigger
	other.ID = "another-message"
	_, err := f.orch.Start(context.Background(), TurnRequest{RoomID: "r1", AgentID: "a1", Trigger: other})
	assert.ErrorIs(t, err, ErrTurnInFlight)

	assert.Len(t, f.orch.Active("r1"), 1)
	assert.Equal(t, 1, f.orch.CancelAgent("r1", "a1"))
	wait(t, turn)

	// the coalesced trigger was not recorded and may run now
	next, err := f.orch.Start(context.Background(), TurnRequest{RoomID: "r1", AgentID: "a1", Trigger: other})
	require.NoError(t, err)
	wait(t, next)
	assert.Equal(t, StateCompleted, next.State())
}

func TestCancellationPersistsNothing(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, []model.Step{{Deltas: []string{"partial"}, Block: true, Started: started}},
		func(o *Options) { o.PersistPartialOnFailure = true })
	rec := &recorder{}
	turn := f.start(t, rec)
	<-started

	assert.True(t, f.orch.CancelTurn("r1", turn.ID()))
	wait(t, turn)

	assert.Equal(t, StateCancelled, turn.State())
	assert.NoError(t, turn.Err())
	assert.Empty(t, f.agentMessages(t))
	types := rec.types()
	assert.Equal(t, EventCancelled, types[len(types)-1])
	assert.Empty(t, rec.of(EventCompleted))
	assert.False(t, turn.Cancel(), "finished turns cannot be cancelled")
}

func TestCancelByCaller(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, []model.Step{{Deltas: []string{"x"}, Block: true, Started: started}})
	turn := f.start(t, nil)
	<-started

	assert.Equal(t, 0, f.orch.CancelCaller("r1", "someone-else"))
	assert.Equal(t, 0, f.orch.CancelRoom("other-room"))
	assert.Equal(t, 1, f.orch.CancelCaller("r1", "u1"))
	wait(t, turn)
	assert.Equal(t, StateCancelled, turn.State())
}

func TestToolFailureIsContained(t *testing.T) {
	f := newFixture(t, []model.Step{
		{ToolCalls: []core.FunctionCall{{ID: "call-1", Name: "math__fail", Arguments: `{}`}}},
		{Deltas: []string{"Sorry, that failed."}},
	})
	rec := &recorder{}
	turn := f.start(t, rec)
	wait(t, turn)

	require.Equal(t, StateCompleted, turn.State())
	results := rec.of(EventToolResult)
	require.Len(t, results, 1)
	assert.Equal(t, core.ToolRunFailed, results[0].Run.Status)
	assert.Contains(t, results[0].Run.Error, "division by zero")
	require.Len(t, rec.of(EventToolCall), 1)

	reqs := f.mock.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Contents[len(reqs[1].Contents)-1]
	assert.Equal(t, "tool", last.Role)
	fr := last.Parts[0].(core.FunctionResponsePart).FunctionResponse
	assert.Equal(t, "call-1", fr.ID)
	assert.Contains(t, fr.Error, "division by zero")

	msgs := f.agentMessages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Sorry, that failed.", msgs[0].Text())
}

func TestToolResultFedBack(t *testing.T) {
	f := newFixture(t, []model.Step{
		{Deltas: []string{"Let me add. "}, ToolCalls: []core.FunctionCall{{ID: "c1", Name: "math__add", Arguments: `{"a":2,"b":3}`}}},
		{Deltas: []string{"It is 5."}},
	})
	turn := f.start(t, nil)
	wait(t, turn)

	require.Equal(t, StateCompleted, turn.State())
	assert.Equal(t, "Let me add. It is 5.", turn.Message().Text())
	reqs := f.mock.Requests()
	require.Len(t, reqs, 2)
	n := len(reqs[1].Contents)
	assert.Equal(t, "assistant", reqs[1].Contents[n-2].Role)
	assert.Len(t, reqs[1].Contents[n-2].FunctionCalls(), 1)
	fr := reqs[1].Contents[n-1].Parts[0].(core.FunctionResponsePart).FunctionResponse
	assert.Equal(t, 5.0, fr.Response)
}

func TestToolLoopLimit(t *testing.T) {
	call := []core.FunctionCall{{ID: "c", Name: "math__add", Arguments: `{"a":1,"b":1}`}}
	f := newFixture(t, []model.Step{{ToolCalls: call}, {ToolCalls: call}}, func(o *Options) { o.MaxToolRounds = 1 })
	turn := f.start(t, nil)
	wait(t, turn)

	assert.Equal(t, StateFailed, turn.State())
	assert.ErrorIs(t, turn.Err(), ErrToolLoopLimit)
	assert.Empty(t, f.agentMessages(t))
}

func TestCancelDuringToolDropsResult(t *testing.T) {
	f := newFixture(t, []model.Step{{ToolCalls: []core.FunctionCall{{ID: "c1", Name: "math__wait"}}}})
	rec := &recorder{}
	turn := f.start(t, rec)
	<-f.toolEntered

	assert.Equal(t, StateToolCall, turn.State())
	assert.True(t, turn.Cancel())
	close(f.toolRelease)
	wait(t, turn)

	assert.Equal(t, StateCancelled, turn.State())
	assert.Len(t, rec.of(EventToolCall), 1)
	assert.Empty(t, rec.of(EventToolResult))
	assert.Len(t, f.mock.Requests(), 1)
	assert.Empty(t, f.agentMessages(t))
}

func TestProviderErrorFailsTurn(t *testing.T) {
	boom := errors.New("upstream 500")

	t.Run("discard partial", func(t *testing.T) {
		f := newFixture(t, []model.Step{{Deltas: []string{"par", "tial"}, Err: boom}})
		rec := &recorder{}
		turn := f.start(t, rec)
		wait(t, turn)

		assert.Equal(t, StateFailed, turn.State())
		assert.ErrorIs(t, turn.Err(), boom)
		assert.Empty(t, f.agentMessages(t))
		failed := rec.of(EventFailed)
		require.Len(t, failed, 1)
		assert.Nil(t, failed[0].Message)
	})

	t.Run("persist partial", func(t *testing.T) {
		f := newFixture(t, []model.Step{{Deltas: []string{"par", "tial"}, Err: boom}}, func(o *Options) { o.PersistPartialOnFailure = true })
		turn := f.start(t, nil)
		wait(t, turn)

		assert.Equal(t, StateFailed, turn.State())
		msgs := f.agentMessages(t)
		require.Len(t, msgs, 1)
		assert.Equal(t, "partial", msgs[0].Text())
		assert.Equal(t, f.trigger.ID, msgs[0].ReplyTo)
	})
}

func TestEmptyReplyFails(t *testing.T) {
	f := newFixture(t, []model.Step{{}})
	turn := f.start(t, nil)
	wait(t, turn)
	assert.ErrorIs(t, turn.Err(), ErrEmptyReply)
}

func TestTurnTimeout(t *testing.T) {
	f := newFixture(t, []model.Step{{Block: true}}, func(o *Options) { o.TurnTimeout = 30 * time.Millisecond })
	turn := f.start(t, nil)
	wait(t, turn)
	assert.Equal(t, StateFailed, turn.State())
	assert.ErrorIs(t, turn.Err(), ErrTurnTimeout)
}

func TestShutdownCancelsAndRejects(t *testing.T) {
	started := make(chan struct{})
	f := newFixture(t, []model.Step{{Deltas: []string{"x"}, Block: true, Started: started}})
	turn := f.start(t, nil)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.orch.Shutdown(ctx))
	assert.Equal(t, StateCancelled, turn.State())

	_, err := f.orch.Start(context.Background(), TurnRequest{RoomID: "r1", AgentID: "a1", Trigger: f.trigger})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.orch.Start(context.Background(), TurnRequest{RoomID: "r1"})
	assert.ErrorIs(t, err, core.ErrInvalid)

	turn, err := f.orch.Start(context.Background(), TurnRequest{RoomID: "r1", AgentID: "u1", Trigger: f.trigger})
	require.NoError(t, err)
	wait(t, turn)
	assert.ErrorIs(t, turn.Err(), core.ErrInvalid)
}
