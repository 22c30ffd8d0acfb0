package prompt

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersona(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Persona
	}{
		{"both", "Personality: Cheerful and brief.\nExtra instructions: Always cite sources.", Persona{"Cheerful and brief.", "Always cite sources."}},
		{"reversed and mixed case", "EXTRA INSTRUCTIONS: no emojis\npersonality:  dry wit ", Persona{"dry wit", "no emojis"}},
		{"only personality", "Personality: calm", Persona{Personality: "calm"}},
		{"only extra", "Extra Instructions:\n- be short", Persona{ExtraInstructions: "- be short"}},
		{"none", "You answer questions about Go.", Persona{}},
		{"empty", "", Persona{}},
		{"inline label is prose", "You have a calm personality: never rushed.\nPersonality: witty and warm\nExtra instructions: cite sources", Persona{"witty and warm", "cite sources"}},
		{"indented headers", "Intro.\n  Personality: dry\n\tExtra instructions: be brief", Persona{"dry", "be brief"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParsePersona(tc.in))
		})
	}
}

func TestProfileBlockOmitsBlankFields(t *testing.T) {
	assert.Equal(t, "", ProfileBlock(core.UserProfile{}))
	assert.Equal(t, "", ProfileBlock(core.UserProfile{Bio: "   "}))
	got := ProfileBlock(core.UserProfile{Name: "Ann", Company: "Acme", Bio: "likes\n\nGo"})
	assert.Equal(t, "User profile:\n- Name: Ann\n- Company: Acme\n- Bio: likes Go", got)
}

func TestLongTermBlock(t *testing.T) {
	assert.Equal(t, "", LongTermBlock(nil))
	got := LongTermBlock([]memory.Note{{Text: "first\nnote"}, {Text: ""}, {Text: "second"}})
	assert.Equal(t, "Relevant memories:\n- first note\n- second", got)
}

type fakeWindow struct {
	msgs []core.Message
	err  error
}

func (f fakeWindow) RecentMessages(_ context.Context, _ string, n int) ([]core.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.msgs) > n {
		return f.msgs[len(f.msgs)-n:], nil
	}
	return f.msgs, nil
}

type fakeRecaller struct {
	notes []memory.Note
	err   error
}

func (f fakeRecaller) Recall(context.Context, string, string, int) ([]memory.Note, error) {
	return f.notes, f.err
}

func msg(id string, seq int64, role core.Role, text string) core.Message {
	return core.Message{ID: id, RoomID: "r1", Seq: seq, AuthorID: "u1", Role: role, Parts: core.TextParts(text)}
}

func fixture() (Input, fakeWindow) {
	user := core.NewUserActor("u1", "ann", "Annie", core.UserProfile{Name: "Ann", Location: "Berlin"})
	agent := core.NewAgentActor("a1", "scout", "Scout", "d1", "news")
	def := &core.AgentDefinition{ID: "d1", Name: "Scout", Instructions: "Personality: curious\nExtra instructions: keep it short"}
	trigger := msg("m4", 4, core.RoleUser, "what happened today?")
	window := fakeWindow{msgs: []core.Message{
		msg("m1", 1, core.RoleUser, "hello"),
		msg("m2", 2, core.RoleAssistant, "hi there"),
		msg("m3", 3, core.RoleTerminal, "$ uptime"),
		trigger,
	}}
	return Input{
		Room:         core.Room{ID: "r1", Title: "News desk"},
		Agent:        agent,
		Definition:   def,
		User:         &user,
		ConnectionID: "conn-7",
		Trigger:      trigger,
	}, window
}

func TestAssembleOrder(t *testing.T) {
	in, window := fixture()
	a, err := New(window, fakeRecaller{notes: []memory.Note{{ID: "m2", Text: "dup"}, {ID: "old", Text: "Ann prefers tech news"}}})
	require.NoError(t, err)

	contents, err := a.Assemble(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, contents, 5)

	sys := contents[0]
	assert.Equal(t, "system", sys.Role)
	text := sys.Text()
	assert.Contains(t, text, "You are Scout")
	assert.Contains(t, text, `"News desk"`)
	assert.Contains(t, text, "talking with Ann")
	assert.Contains(t, text, "Connection: conn-7")
	assert.Contains(t, text, "Personality:\ncurious")
	assert.Contains(t, text, "- Location: Berlin")
	assert.Contains(t, text, "- Ann prefers tech news")
	assert.NotContains(t, text, "dup")
	assert.NotContains(t, text, "Email")

	assert.Equal(t, "user", contents[1].Role)
	assert.Equal(t, "assistant", contents[2].Role)
	assert.Equal(t, "system", contents[3].Role, "terminal output is replayed as system")
	assert.Equal(t, "$ uptime", contents[3].Text())
	assert.Equal(t, "user", contents[4].Role)
	assert.Equal(t, "what happened today?", contents[4].Text())
}

func TestAssembleIsIdempotent(t *testing.T) {
	in, window := fixture()
	a, err := New(window, fakeRecaller{notes: []memory.Note{{ID: "n1", Text: "note"}}})
	require.NoError(t, err)

	first, err := a.Assemble(context.Background(), in)
	require.NoError(t, err)
	second, err := a.Assemble(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAssembleDegrades(t *testing.T) {
	in, window := fixture()
	in.Definition = nil
	in.User = nil
	a, err := New(window, fakeRecaller{err: errors.New("index down")})
	require.NoError(t, err)

	contents, err := a.Assemble(context.Background(), in)
	require.NoError(t, err)
	text := contents[0].Text()
	assert.Contains(t, text, "talking with a user")
	assert.NotContains(t, text, "Personality")
	assert.NotContains(t, text, "User profile")
	assert.NotContains(t, text, "Relevant memories")
}

func TestAssembleWindowFailure(t *testing.T) {
	in, _ := fixture()
	a, err := New(fakeWindow{err: errors.New("db down")}, nil)
	require.NoError(t, err)
	_, err = a.Assemble(context.Background(), in)
	assert.ErrorContains(t, err, "short-term window")
}

func TestAssembleWindowSize(t *testing.T) {
	in, window := fixture()
	a, err := New(window, nil, func(o *Options) { o.WindowSize = 1 })
	require.NoError(t, err)
	contents, err := a.Assemble(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, contents, 3)
	assert.Equal(t, "$ uptime", contents[1].Text())
}

func TestNewRejectsBadPreamble(t *testing.T) {
	_, err := New(fakeWindow{}, nil, func(o *Options) { o.Preamble = "{{.Nope" })
	assert.Error(t, err)
}
