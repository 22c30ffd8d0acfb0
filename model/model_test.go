package model

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agentroom/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, out <-chan Response, errCh <-chan error) ([]Response, error) {
	t.Helper()
	var rs []Response
	for r := range out {
		rs = append(rs, r)
	}
	return rs, <-errCh
}

func TestMockModelEcho(t *testing.T) {
	m := NewMockModel("mock")
	out, errCh := m.Generate(context.Background(), Request{Contents: []core.Content{
		core.NewTextContent("system", "be nice"),
		core.NewTextContent("user", "hello there"),
	}})
	rs, err := drain(t, out, errCh)
	require.NoError(t, err)
	require.NotEmpty(t, rs)

	var text string
	for _, r := range rs[:len(rs)-1] {
		assert.True(t, r.Partial)
		text += r.Delta()
	}
	last := rs[len(rs)-1]
	assert.False(t, last.Partial)
	assert.Equal(t, FinishStop, last.FinishReason)
	assert.Equal(t, "Mock response to: hello there", text)
	assert.Equal(t, text, last.Content.Text())
	assert.Len(t, m.Requests(), 1)
}

func TestMockModelScriptedToolCall(t *testing.T) {
	m := NewMockModel("mock", Step{
		Deltas:    []string{"Let me check."},
		ToolCalls: []core.FunctionCall{{ID: "c1", Name: "room__history", Arguments: `{}`}},
	})
	out, errCh := m.Generate(context.Background(), Request{})
	rs, err := drain(t, out, errCh)
	require.NoError(t, err)
	last := rs[len(rs)-1]
	assert.Equal(t, FinishToolCalls, last.FinishReason)
	require.Len(t, last.Content.FunctionCalls(), 1)
	assert.Equal(t, "room__history", last.Content.FunctionCalls()[0].Name)
}

func TestMockModelError(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockModel("mock", Step{Deltas: []string{"a"}, Err: boom})
	out, errCh := m.Generate(context.Background(), Request{})
	rs, err := drain(t, out, errCh)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, rs, 1)
}

func TestMockModelBlockHonoursCancel(t *testing.T) {
	started := make(chan struct{})
	m := NewMockModel("mock", Step{Deltas: []string{"a"}, Block: true, Started: started})
	ctx, cancel := context.WithCancel(context.Background())
	out, errCh := m.Generate(ctx, Request{})
	<-out
	<-started
	cancel()
	_, err := drain(t, out, errCh)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("")
	assert.Error(t, err)

	a, b := NewMockModel("a"), NewMockModel("b")
	r.Register("a", a)
	r.Register("b", b)

	got, err := r.Resolve("")
	require.NoError(t, err)
	assert.Same(t, a, got)

	require.NoError(t, r.SetDefault("b"))
	got, err = r.Resolve("")
	require.NoError(t, err)
	assert.Same(t, b, got)

	assert.Error(t, r.SetDefault("c"))
	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestRequestSystemText(t *testing.T) {
	req := Request{Contents: []core.Content{
		core.NewTextContent("system", "one"),
		core.NewTextContent("user", "u"),
		core.NewTextContent("system", "two"),
	}}
	assert.Equal(t, "one\n\ntwo", req.SystemText())
}
