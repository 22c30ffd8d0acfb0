package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorValidate(t *testing.T) {
	user := NewUserActor("u1", "alice", "Alice", UserProfile{Name: "Alice"})
	require.NoError(t, user.Validate())

	agent := NewAgentActor("a1", "Coder", "Code Helper", "def-1", "Code", "code", " review ")
	require.NoError(t, agent.Validate())
	assert.Equal(t, []string{"code", "review"}, agent.Capabilities)
	assert.True(t, agent.IsAgent())
	assert.Equal(t, "coder", agent.HandleKey())
	assert.True(t, agent.HasCapability("CODE"))

	broken := agent.Clone()
	broken.User = &UserSettings{}
	assert.True(t, errors.Is(broken.Validate(), ErrInvalid))

	noDef := NewAgentActor("a2", "x", "", "")
	assert.Error(t, noDef.Validate())

	badHandle := NewUserActor("u2", "has space", "", UserProfile{})
	assert.Error(t, badHandle.Validate())
}

func TestActorCloneIsDeep(t *testing.T) {
	a := NewAgentActor("a1", "bot", "Bot", "def", "x")
	c := a.Clone()
	c.Capabilities[0] = "changed"
	c.Agent.DefinitionID = "other"
	assert.Equal(t, "x", a.Capabilities[0])
	assert.Equal(t, "def", a.Agent.DefinitionID)
}

func TestRoomAddMember(t *testing.T) {
	r := NewRoom("r1", "General")
	t0 := time.Unix(100, 0)
	assert.True(t, r.AddMember("b", t0.Add(time.Second)))
	assert.True(t, r.AddMember("a", t0))
	assert.False(t, r.AddMember("a", t0.Add(time.Hour)))
	assert.Equal(t, []string{"a", "b"}, r.MemberIDs())
	require.NoError(t, r.Validate())

	r.Members = append(r.Members, Member{ActorID: "a"})
	assert.Error(t, r.Validate())
}

func TestMessageValidate(t *testing.T) {
	m := Message{RoomID: "r", AuthorID: "u", Role: RoleUser, Parts: TextParts("hi")}
	require.NoError(t, m.Validate())

	m.Parts = TextParts("   ")
	assert.ErrorIs(t, m.Validate(), ErrInvalid)

	m.Parts = TextParts("ok")
	m.Role = "narrator"
	assert.Error(t, m.Validate())
}

func TestMessageToContentMapsTerminalToSystem(t *testing.T) {
	m := Message{Role: RoleTerminal, Parts: []MessagePart{{Type: PartTypeText, Text: "$ ls"}, {Type: PartTypeText, Text: "\nfoo"}}}
	c := m.ToContent()
	assert.Equal(t, "system", c.Role)
	assert.Equal(t, "$ ls\nfoo", c.Text())
}

func TestCountUnread(t *testing.T) {
	msgs := []Message{
		{Seq: 1, AuthorID: "u1"},
		{Seq: 2, AuthorID: "u2"},
		{Seq: 3, AuthorID: "agent"},
		{Seq: 4, AuthorID: "u1"},
	}

	assert.Equal(t, 2, CountUnread("u1", nil, msgs))
	assert.Equal(t, 1, CountUnread("u1", &ReadMarker{Seq: 2}, msgs))
	assert.Equal(t, 0, CountUnread("u1", &ReadMarker{Seq: 4}, msgs))
	assert.Equal(t, 3, CountUnread("u2", nil, msgs))

	markers := map[string]ReadMarker{"u1": {Seq: 2}, "u2": {Seq: 1}}
	counts := UnreadCounts([]string{"u1", "u2", "agent"}, markers, msgs)
	assert.Equal(t, map[string]int{"u1": 1, "u2": 2, "agent": 3}, counts)

	assert.Equal(t, int64(0), LowestMarkerSeq([]string{"u1", "agent"}, markers))
	assert.Equal(t, int64(1), LowestMarkerSeq([]string{"u1", "u2"}, markers))
}

func TestUserProfileFields(t *testing.T) {
	assert.True(t, UserProfile{Bio: "  "}.IsZero())
	p := UserProfile{Name: "Ann", Bio: "Hi"}
	assert.False(t, p.IsZero())
	assert.Len(t, p.Fields(), 7)
}

func TestNextCreatedAt(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-time.Minute)

	assert.Equal(t, now, NextCreatedAt(time.Time{}, now, last))
	assert.Equal(t, now, NextCreatedAt(time.Time{}, now, time.Time{}))
	assert.Equal(t, last.Add(time.Nanosecond), NextCreatedAt(last.Add(-time.Hour), now, last))
	assert.Equal(t, last.Add(time.Nanosecond), NextCreatedAt(last, now, last))
	assert.Equal(t, now.Add(time.Hour), NextCreatedAt(now.Add(time.Hour), now, last))
}
