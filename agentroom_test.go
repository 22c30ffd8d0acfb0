package agentroom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentroom/config"
	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/logging"
	"github.com/hupe1980/agentroom/orchestrator"
	"github.com/hupe1980/agentroom/server"
	"github.com/hupe1980/agentroom/store/memstore"
)

func TestParseFixturesFillsDefaults(t *testing.T) {
	fx, err := LoadFixtures("testdata/fixtures.yaml")
	require.NoError(t, err)

	require.Len(t, fx.Actors, 3)
	ann := fx.Actors[0]
	assert.Equal(t, core.ActorUser, ann.Kind)
	require.NotNil(t, ann.User)
	assert.Equal(t, "u-ann", ann.User.OwnerUserID)
	assert.Equal(t, "Works on distributed systems.", ann.User.Profile.Bio)
	assert.False(t, ann.CreatedAt.IsZero())

	bob := fx.Actors[1]
	require.NotNil(t, bob.User, "users without settings get an empty profile")

	coder := fx.Actors[2]
	assert.Equal(t, core.ActorAgent, coder.Kind)
	assert.Equal(t, "coder-def", coder.DefinitionID())
	assert.Equal(t, []string{"code", "golang"}, coder.Capabilities)

	require.Len(t, fx.AgentDefinitions, 1)
	assert.Contains(t, fx.AgentDefinitions[0].Instructions, "Personality:")
	assert.Equal(t, []string{"room"}, fx.AgentDefinitions[0].Tools)
}

func TestParseFixturesRejectsUnknownFields(t *testing.T) {
	_, err := ParseFixtures(strings.NewReader("actors:\n  - id: x\n    nickname: y\n"))
	require.Error(t, err)

	fx, err := ParseFixtures(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, fx.Actors)
}

func TestSeedIsRepeatable(t *testing.T) {
	ctx := context.Background()
	gw := memstore.New()
	fx, err := LoadFixtures("testdata/fixtures.yaml")
	require.NoError(t, err)

	res, err := Seed(ctx, gw, fx)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{AgentDefinitions: 1, Actors: 3, Rooms: 1, Members: 3, Relationships: 1}, res)

	room, err := gw.GetRoom(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, []string{"u-ann", "u-bob", "a-coder"}, room.MemberIDs())

	rels, err := gw.ListRelationships(ctx, "u-ann")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, core.RelationshipAccepted, rels[0].Status)

	res, err = Seed(ctx, gw, fx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Skipped)
	assert.Zero(t, res.Members)
}

func TestSeedRejectsUnknownMember(t *testing.T) {
	fx := &Fixtures{Rooms: []RoomFixture{{ID: "r", Members: []string{"ghost"}}}}
	_, err := Seed(context.Background(), memstore.New(), fx)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = ""
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestOpenGateway(t *testing.T) {
	gw, err := OpenGateway(config.StorageConfig{Driver: config.StorageMemory}, logging.NoOpLogger{})
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	gw, err = OpenGateway(config.StorageConfig{Driver: config.StoragePebble, Path: t.TempDir(), NoSync: true}, logging.NoOpLogger{})
	require.NoError(t, err)
	require.NoError(t, gw.CreateRoom(context.Background(), core.NewRoom("r", "R")))
	require.NoError(t, gw.Close())

	_, err = OpenGateway(config.StorageConfig{Driver: "mysql"}, logging.NoOpLogger{})
	require.Error(t, err)
}

func TestNewEmbedder(t *testing.T) {
	ctx := context.Background()
	e, err := NewEmbedder(ctx, config.EmbeddingConfig{Provider: config.EmbeddingNone})
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = NewEmbedder(ctx, config.EmbeddingConfig{Provider: config.EmbeddingHash, Dimensions: 32})
	require.NoError(t, err)
	vec, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	assert.Len(t, vec, 32)

	_, err = NewEmbedder(ctx, config.EmbeddingConfig{Provider: "word2vec"})
	require.Error(t, err)
}

func TestNewModels(t *testing.T) {
	ctx := context.Background()
	reg, err := NewModels(ctx, config.Default().Models)
	require.NoError(t, err)
	m, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "mock", m.Info().Provider)

	reg, err = NewModels(ctx, config.ModelsConfig{
		Default: "gpt",
		Providers: []config.ProviderConfig{
			{Name: "gpt", Provider: config.ProviderOpenAI, Model: "gpt-4o-mini", APIKey: "test"},
			{Name: "claude", Provider: config.ProviderAnthropic, APIKey: "test", MaxTokens: 512},
		},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gpt", "claude"}, reg.Names())

	_, err = NewModels(ctx, config.ModelsConfig{Providers: []config.ProviderConfig{{Name: "x", Provider: "llama"}}})
	require.Error(t, err)

	_, err = NewModels(ctx, config.ModelsConfig{Default: "missing"})
	require.Error(t, err)
}

type wsFrame struct {
	ID     json.RawMessage  `json:"id"`
	Method string           `json:"method"`
	Params json.RawMessage  `json:"params"`
	Result json.RawMessage  `json:"result"`
	Error  *server.RPCError `json:"error"`
}

func TestAppServesRoomConversation(t *testing.T) {
	ctx := context.Background()
	app, err := New(ctx, config.Default(), func(o *Options) {
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)
	fx, err := LoadFixtures("testdata/fixtures.yaml")
	require.NoError(t, err)
	_, err = Seed(ctx, app.Gateway, fx)
	require.NoError(t, err)
	require.NotNil(t, app.Memory, "the default config enables the hash embedder")

	ts := httptest.NewServer(app.Handler())
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, app.Shutdown(sctx))
		ts.Close()
	}()

	header := http.Header{}
	header.Set("X-Actor-ID", "u-ann")
	ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer ws.Close()

	read := func() wsFrame {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		var f wsFrame
		require.NoError(t, ws.ReadJSON(&f))
		return f
	}

	require.NoError(t, ws.WriteJSON(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": server.MethodRoomJoin,
		"params": map[string]any{"roomId": "general"},
	}))
	require.NoError(t, ws.WriteJSON(map[string]any{
		"jsonrpc": "2.0", "id": 2, "method": server.MethodMessageCreate,
		"params": map[string]any{"roomId": "general", "message": map[string]any{"text": "hello coder"}},
	}))

	var reply *core.Message
	for reply == nil {
		f := read()
		require.Nil(t, f.Error)
		if f.Method != string(orchestrator.EventCompleted) {
			continue
		}
		var p server.TurnPayload
		require.NoError(t, json.Unmarshal(f.Params, &p))
		reply = p.Message
	}
	assert.Equal(t, "a-coder", reply.AuthorID)
	assert.Contains(t, reply.Text(), "hello coder")

	msgs, err := app.Gateway.ListMessages(ctx, "general", 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}
