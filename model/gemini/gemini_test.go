package gemini

import (
	"testing"

	"github.com/hupe1980/agentroom/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestToContents(t *testing.T) {
	out := toContents([]core.Content{
		core.NewTextContent("system", "ignored"),
		core.NewTextContent("user", "weather?"),
		{Role: "assistant", Parts: []core.Part{
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "memory__search", Arguments: `{"query":"rain"}`}},
		}},
		{Role: "tool", Parts: []core.Part{
			core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "c1", Name: "memory__search", Error: "down"}},
		}},
	})
	require.Len(t, out, 3)
	assert.Equal(t, string(genai.RoleUser), out[0].Role)
	assert.Equal(t, string(genai.RoleModel), out[1].Role)
	require.NotNil(t, out[1].Parts[0].FunctionCall)
	assert.Equal(t, "rain", out[1].Parts[0].FunctionCall.Args["query"])
	assert.Equal(t, "c1", out[1].Parts[0].FunctionCall.ID)
	require.NotNil(t, out[2].Parts[0].FunctionResponse)
	assert.Equal(t, "down", out[2].Parts[0].FunctionResponse.Response["error"])
}

func TestNewModelRequiresKey(t *testing.T) {
	_, err := NewModel(t.Context())
	assert.Error(t, err)
}
