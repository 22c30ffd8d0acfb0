package openai

import (
	"testing"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMessages(t *testing.T) {
	msgs := toMessages([]core.Content{
		core.NewTextContent("system", "sys"),
		core.NewTextContent("user", "hi"),
		{Role: "assistant", Parts: []core.Part{
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "room__history"}},
		}},
		{Role: "tool", Parts: []core.Part{
			core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "c1", Name: "room__history", Error: "boom"}},
		}},
		core.NewTextContent("assistant", "done"),
	})
	require.Len(t, msgs, 5)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "{}", msgs[2].OfAssistant.ToolCalls[0].Function.Arguments)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
	assert.NotNil(t, msgs[4].OfAssistant)
}

func TestResponseText(t *testing.T) {
	assert.Equal(t, `{"error":"bad"}`, responseText(core.FunctionResponse{Error: "bad"}))
	assert.Equal(t, "plain", responseText(core.FunctionResponse{Response: "plain"}))
	assert.Equal(t, `{"n":1}`, responseText(core.FunctionResponse{Response: map[string]int{"n": 1}}))
}

func TestFinalContentOrdersCalls(t *testing.T) {
	c := finalContent("x", map[int64]*pendingCall{
		1: {id: "b", name: "t__two"},
		0: {id: "a", name: "t__one"},
	})
	calls := c.FunctionCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].ID)
	assert.Equal(t, "x", c.Text())
}

func TestNormalizeFinish(t *testing.T) {
	assert.Equal(t, model.FinishToolCalls, normalizeFinish("tool_calls"))
	assert.Equal(t, model.FinishStop, normalizeFinish(""))
	assert.Equal(t, model.FinishLength, normalizeFinish("length"))
}
