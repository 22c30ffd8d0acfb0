package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/internal/testutil"
	"github.com/hupe1980/agentroom/embedding"
	"github.com/hupe1980/agentroom/memory"
	"github.com/hupe1980/agentroom/store/memstore"
	"github.com/hupe1980/agentroom/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*memstore.Store, *memory.LongTerm, *tool.Runner) {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.PutActor(ctx, core.NewUserActor("u1", "ann", "Ann", core.UserProfile{})))
	require.NoError(t, store.PutActor(ctx, core.NewAgentActor("a1", "helper", "Helper", "d1", "search")))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, testutil.NewRoomBuilder("r1").Title("General").JoinedFrom(base).Members("u1", "a1").Store(ctx, store))

	lt := memory.NewLongTerm(memory.NewInMemoryIndex(), embedding.NewHashEmbedder(128))
	for _, text := range []string{"we deploy with kubernetes", "lunch is at noon", "kubernetes cluster upgrade friday"} {
		m, err := store.AppendMessage(ctx, testutil.UserMessage("r1", "u1", text))
		require.NoError(t, err)
		require.NoError(t, lt.Remember(ctx, m))
	}

	reg, err := tool.NewRegistry(Room(store), Memory(lt))
	require.NoError(t, err)
	return store, lt, tool.NewRunner(reg)
}

func call(name, args string) tool.Call {
	return tool.Call{
		Scope:     core.ToolScope{RoomID: "r1", ActorID: "a1", CallerID: "u1"},
		Name:      name,
		Arguments: args,
		Allowed:   []string{RoomToolset, MemoryToolset},
	}
}

func TestRoomHistory(t *testing.T) {
	_, _, runner := setup(t)
	run, err := runner.Run(context.Background(), call("room__history", `{"limit": 2}`))
	require.NoError(t, err)
	entries := run.Result.([]HistoryEntry)
	require.Len(t, entries, 2)
	assert.Equal(t, "lunch is at noon", entries[0].Text)
	assert.Equal(t, "Ann", entries[1].Author)
	assert.Equal(t, int64(3), entries[1].Seq)
}

func TestRoomParticipants(t *testing.T) {
	_, _, runner := setup(t)
	run, err := runner.Run(context.Background(), call("room__participants", ""))
	require.NoError(t, err)
	ps := run.Result.([]Participant)
	require.Len(t, ps, 2)
	assert.Equal(t, "u1", ps[0].ID)
	assert.Equal(t, core.ActorAgent, ps[1].Kind)
	assert.Equal(t, []string{"search"}, ps[1].Capabilities)
}

func TestMemorySearch(t *testing.T) {
	_, _, runner := setup(t)
	run, err := runner.Run(context.Background(), call(QualifiedSearch, `{"query": "kubernetes upgrade", "limit": 2}`))
	require.NoError(t, err)
	notes := run.Result.([]memory.Note)
	require.NotEmpty(t, notes)
	assert.Contains(t, notes[0].Text, "kubernetes")

	_, err = runner.Run(context.Background(), call(QualifiedSearch, `{"query": ""}`))
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeValidation, toolErr.Code)
}
