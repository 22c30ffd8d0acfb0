// Package storetest is the conformance suite every core.Gateway
// implementation runs from its own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hupe1980/agentroom/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty gateway. Cleanup is registered on t.
type Factory func(t *testing.T) core.Gateway

// Run executes the suite.
func Run(t *testing.T, newGateway Factory) {
	t.Run("Rooms", func(t *testing.T) { testRooms(t, newGateway(t)) })
	t.Run("ActorUniqueness", func(t *testing.T) { testActors(t, newGateway(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, newGateway(t)) })
	t.Run("MonotonicCreatedAt", func(t *testing.T) { testMonotonicCreatedAt(t, newGateway(t)) })
	t.Run("ReadMarkers", func(t *testing.T) { testMarkers(t, newGateway(t)) })
	t.Run("Relationships", func(t *testing.T) { testRelationships(t, newGateway(t)) })
}

func seedActors(t *testing.T, g core.Gateway, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, g.PutActor(context.Background(), core.NewUserActor(id, "h-"+id, id, core.UserProfile{})))
	}
}

func testRooms(t *testing.T, g core.Gateway) {
	ctx := context.Background()
	seedActors(t, g, "u1", "u2")

	require.NoError(t, g.CreateRoom(ctx, core.NewRoom("r1", "General")))
	assert.ErrorIs(t, g.CreateRoom(ctx, core.NewRoom("r1", "again")), core.ErrConflict)

	_, err := g.GetRoom(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	changed, err := g.AddRoomMember(ctx, "r1", "u2", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = g.AddRoomMember(ctx, "r1", "u1", t0)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = g.AddRoomMember(ctx, "r1", "u1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = g.AddRoomMember(ctx, "r1", "ghost", t0)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = g.AddRoomMember(ctx, "nope", "u1", t0)
	assert.ErrorIs(t, err, core.ErrNotFound)

	room, err := g.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "General", room.Title)
	assert.Equal(t, []string{"u1", "u2"}, room.MemberIDs())
	m, ok := room.Member("u1")
	require.True(t, ok)
	assert.True(t, m.JoinedAt.Equal(t0))
}

func testActors(t *testing.T, g core.Gateway) {
	ctx := context.Background()

	require.NoError(t, g.PutActor(ctx, core.NewUserActor("u1", "Alice", "Alice", core.UserProfile{Email: "a@example.com"})))
	assert.ErrorIs(t, g.PutActor(ctx, core.NewUserActor("u2", "alice", "Other", core.UserProfile{})), core.ErrConflict)

	got, err := g.GetActorByHandle(ctx, "@ALICE")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "a@example.com", got.Profile().Email)

	// renaming frees the old handle
	renamed := core.NewUserActor("u1", "alice2", "Alice", core.UserProfile{})
	require.NoError(t, g.PutActor(ctx, renamed))
	require.NoError(t, g.PutActor(ctx, core.NewUserActor("u2", "alice", "Other", core.UserProfile{})))

	require.NoError(t, g.PutAgentDefinition(ctx, core.AgentDefinition{ID: "def-1", Name: "Helper", Tools: []string{"room"}}))
	def, err := g.GetAgentDefinition(ctx, "def-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"room"}, def.Tools)

	require.NoError(t, g.PutActor(ctx, core.NewAgentActor("a1", "helper", "Helper", "def-1", "support")))
	assert.ErrorIs(t, g.PutActor(ctx, core.NewAgentActor("a2", "helper2", "Helper 2", "def-1")), core.ErrConflict)
	require.NoError(t, g.PutActor(ctx, core.NewAgentActor("a1", "helper", "Helper v2", "def-1", "support")))

	agent, err := g.GetActor(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Helper v2", agent.DisplayName)
	assert.Equal(t, core.ActorAgent, agent.Kind)
	assert.Equal(t, "def-1", agent.DefinitionID())

	assert.ErrorIs(t, g.PutActor(ctx, core.Actor{ID: "bad", Kind: core.ActorAgent, Handle: "bad"}), core.ErrInvalid)

	list, err := g.ListActors(ctx, []string{"a1", "missing", "u2"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a1", list[0].ID)
	assert.Equal(t, "u2", list[1].ID)

	_, err = g.GetActor(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = g.GetAgentDefinition(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func userMessage(room, author, text string) core.Message {
	return core.Message{RoomID: room, AuthorID: author, AuthorKind: core.ActorUser, Role: core.RoleUser, Parts: core.TextParts(text)}
}

func testMonotonicCreatedAt(t *testing.T, g core.Gateway) {
	ctx := context.Background()
	seedActors(t, g, "u1")
	require.NoError(t, g.CreateRoom(ctx, core.NewRoom("r1", "")))

	// CreatedAt increases with Seq whatever time the caller stamped.
	base := time.Now().UTC()
	late := userMessage("r1", "u1", "stamped later")
	late.CreatedAt = base
	early := userMessage("r1", "u1", "stamped earlier")
	early.CreatedAt = base.Add(-time.Second)
	tie := userMessage("r1", "u1", "same instant")
	tie.CreatedAt = base

	first, err := g.AppendMessage(ctx, late)
	require.NoError(t, err)
	assert.True(t, first.CreatedAt.Equal(base))
	second, err := g.AppendMessage(ctx, early)
	require.NoError(t, err)
	third, err := g.AppendMessage(ctx, tie)
	require.NoError(t, err)
	fourth, err := g.AppendMessage(ctx, userMessage("r1", "u1", "unstamped"))
	require.NoError(t, err)

	msgs, err := g.ListMessages(ctx, "r1", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].CreatedAt.After(msgs[i-1].CreatedAt), "seq %d not after seq %d", msgs[i].Seq, msgs[i-1].Seq)
	}
	assert.True(t, second.CreatedAt.After(first.CreatedAt))
	assert.True(t, third.CreatedAt.After(second.CreatedAt))
	assert.True(t, fourth.CreatedAt.After(third.CreatedAt))
}

func testMessages(t *testing.T, g core.Gateway) {
	ctx := context.Background()
	seedActors(t, g, "u1")
	require.NoError(t, g.CreateRoom(ctx, core.NewRoom("r1", "")))
	require.NoError(t, g.CreateRoom(ctx, core.NewRoom("r2", "")))

	var ids []string
	for i := 1; i <= 5; i++ {
		m, err := g.AppendMessage(ctx, userMessage("r1", "u1", fmt.Sprintf("msg %d", i)))
		require.NoError(t, err)
		assert.Equal(t, int64(i), m.Seq)
		assert.NotEmpty(t, m.ID)
		assert.False(t, m.CreatedAt.IsZero())
		ids = append(ids, m.ID)
	}

	other, err := g.AppendMessage(ctx, userMessage("r2", "u1", "elsewhere"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.Seq)

	withID := userMessage("r1", "u1", "client id")
	withID.ID = "client-1"
	stored, err := g.AppendMessage(ctx, withID)
	require.NoError(t, err)
	assert.Equal(t, "client-1", stored.ID)
	_, err = g.AppendMessage(ctx, withID)
	assert.ErrorIs(t, err, core.ErrConflict)

	_, err = g.AppendMessage(ctx, userMessage("r1", "u1", "  "))
	assert.ErrorIs(t, err, core.ErrInvalid)
	_, err = g.AppendMessage(ctx, userMessage("missing", "u1", "x"))
	assert.ErrorIs(t, err, core.ErrNotFound)

	got, err := g.GetMessage(ctx, "r1", ids[2])
	require.NoError(t, err)
	assert.Equal(t, "msg 3", got.Text())
	_, err = g.GetMessage(ctx, "r1", other.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	page, err := g.ListMessages(ctx, "r1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].Seq)
	assert.Equal(t, int64(4), page[1].Seq)

	all, err := g.ListMessages(ctx, "r1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	none, err := g.ListMessages(ctx, "r1", 6, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	recent, err := g.RecentMessages(ctx, "r1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(4), recent[0].Seq)
	assert.Equal(t, "client-1", recent[2].ID)

	recent, err = g.RecentMessages(ctx, "r2", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func testMarkers(t *testing.T, g core.Gateway) {
	ctx := context.Background()
	seedActors(t, g, "u1", "u2")
	require.NoError(t, g.CreateRoom(ctx, core.NewRoom("r1", "")))

	_, err := g.GetReadMarker(ctx, "r1", "u1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	mk, err := g.AdvanceReadMarker(ctx, core.ReadMarker{RoomID: "r1", ActorID: "u1", MessageID: "m5", Seq: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(5), mk.Seq)

	mk, err = g.AdvanceReadMarker(ctx, core.ReadMarker{RoomID: "r1", ActorID: "u1", MessageID: "m3", Seq: 3})
	require.NoError(t, err)
	assert.Equal(t, "m5", mk.MessageID)

	_, err = g.AdvanceReadMarker(ctx, core.ReadMarker{RoomID: "r1", ActorID: "u2", MessageID: "m1", Seq: 1})
	require.NoError(t, err)

	got, err := g.GetReadMarker(ctx, "r1", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Seq)

	all, err := g.ListReadMarkers(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, int64(1), all["u2"].Seq)

	_, err = g.AdvanceReadMarker(ctx, core.ReadMarker{RoomID: "missing", ActorID: "u1", Seq: 1})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testRelationships(t *testing.T, g core.Gateway) {
	ctx := context.Background()
	require.NoError(t, g.PutRelationship(ctx, core.Relationship{FromID: "u1", ToID: "a2", Kind: "follow", Status: core.RelationshipPending}))
	require.NoError(t, g.PutRelationship(ctx, core.Relationship{FromID: "u1", ToID: "a1", Kind: "follow", Status: core.RelationshipAccepted}))
	require.NoError(t, g.PutRelationship(ctx, core.Relationship{FromID: "u1", ToID: "a2", Kind: "follow", Status: core.RelationshipAccepted}))
	require.NoError(t, g.PutRelationship(ctx, core.Relationship{FromID: "u2", ToID: "a1", Kind: "follow"}))
	assert.ErrorIs(t, g.PutRelationship(ctx, core.Relationship{FromID: "u1"}), core.ErrInvalid)

	rels, err := g.ListRelationships(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rels, 2)
	assert.Equal(t, "a1", rels[0].ToID)
	assert.Equal(t, core.RelationshipAccepted, rels[1].Status)

	rels, err = g.ListRelationships(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, rels)
}
