package anthropic

import (
	"testing"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMessagesSkipsSystemAndWrapsToolResults(t *testing.T) {
	msgs := toMessages([]core.Content{
		core.NewTextContent("system", "sys"),
		core.NewTextContent("user", "hi"),
		{Role: "assistant", Parts: []core.Part{
			core.TextPart{Text: "checking"},
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "t1", Name: "memory__search", Arguments: `{"query":"x"}`}},
		}},
		{Role: "tool", Parts: []core.Part{
			core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "t1", Response: []string{"a"}}},
		}},
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Len(t, msgs[1].Content, 2)
	assert.Equal(t, "user", string(msgs[2].Role))
}

func TestResultText(t *testing.T) {
	text, isErr := resultText(core.FunctionResponse{Error: "nope"})
	assert.True(t, isErr)
	assert.Equal(t, "nope", text)

	text, isErr = resultText(core.FunctionResponse{Response: map[string]int{"n": 2}})
	assert.False(t, isErr)
	assert.Equal(t, `{"n":2}`, text)
}

func TestToToolsCopiesSchema(t *testing.T) {
	tools := toTools([]model.ToolDefinition{{Function: model.FunctionDefinition{
		Name:        "room__history",
		Description: "recent messages",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"limit": map[string]any{"type": "integer"}},
			"required":   []any{"limit"},
		},
	}}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "room__history", tools[0].OfTool.Name)
	assert.Equal(t, []string{"limit"}, tools[0].OfTool.InputSchema.Required)
}

func TestNormalizeStop(t *testing.T) {
	assert.Equal(t, model.FinishToolCalls, normalizeStop("tool_use"))
	assert.Equal(t, model.FinishLength, normalizeStop("max_tokens"))
	assert.Equal(t, model.FinishStop, normalizeStop("end_turn"))
}
