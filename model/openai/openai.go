// Package openai implements model.Model on the OpenAI Chat Completions API
// with streaming and tool calling.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// pendingCall accumulates streamed tool call fragments by choice index.
type pendingCall struct{ id, name, args string }

// Options configure the adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	BaseURL             string
}

// Model wraps the OpenAI Chat Completions API.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a model with a client configured from opts (falling back
// to OPENAI_API_KEY).
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	var reqOpts []option.RequestOption
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(reqOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a model on an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		params := m.buildParams(req, toMessages(req.Contents))
		if req.Stream {
			m.stream(ctx, params, out, errCh)
			return
		}
		m.complete(ctx, params, out, errCh)
	}()
	return out, errCh
}

// toMessages converts contents into chat messages. Tool contents become one
// tool message per function response, in order.
func toMessages(contents []core.Content) []openai.ChatCompletionMessageParamUnion {
	var msgs []openai.ChatCompletionMessageParamUnion
	for _, c := range contents {
		switch c.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(c.Text()))
		case "assistant":
			calls := c.FunctionCalls()
			if len(calls) == 0 {
				msgs = append(msgs, openai.AssistantMessage(c.Text()))
				continue
			}
			asst := &openai.ChatCompletionAssistantMessageParam{}
			if text := c.Text(); text != "" {
				asst.Content.OfString = openai.String(text)
			}
			for _, fc := range calls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: fc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      fc.Name,
						Arguments: argumentsOrEmpty(fc.Arguments),
					},
				})
			}
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: asst})
		case "tool":
			for _, p := range c.Parts {
				if fr, ok := p.(core.FunctionResponsePart); ok {
					msgs = append(msgs, openai.ToolMessage(responseText(fr.FunctionResponse), fr.FunctionResponse.ID))
				}
			}
		default:
			if text := c.Text(); text != "" {
				msgs = append(msgs, openai.UserMessage(text))
			}
		}
	}
	return msgs
}

func argumentsOrEmpty(args string) string {
	if strings.TrimSpace(args) == "" {
		return "{}"
	}
	return args
}

// responseText renders a function response as the JSON text models expect.
func responseText(fr core.FunctionResponse) string {
	if fr.Error != "" {
		b, _ := json.Marshal(map[string]string{"error": fr.Error})
		return string(b)
	}
	if s, ok := fr.Response.(string); ok {
		return s
	}
	b, err := json.Marshal(fr.Response)
	if err != nil {
		return fmt.Sprintf("%v", fr.Response)
	}
	return string(b)
}

func (m *Model) buildParams(req model.Request, msgs []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            msgs,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        td.Function.Name,
				Description: openai.String(td.Function.Description),
				Parameters:  td.Function.Parameters,
			},
		})
	}
	return params
}

// stream forwards text deltas as they arrive and emits one final chunk with
// the aggregated text and tool calls once a finish reason is seen.
func (m *Model) stream(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response, errCh chan<- error) {
	s := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer s.Close()

	var text strings.Builder
	calls := map[int64]*pendingCall{}
	for s.Next() {
		chunk := s.Current()
		for _, ch := range chunk.Choices {
			if d := ch.Delta.Content; d != "" {
				text.WriteString(d)
				if !send(ctx, out, model.Response{ID: chunk.ID, Partial: true, Content: core.NewTextContent("assistant", d)}) {
					return
				}
			}
			for _, tc := range ch.Delta.ToolCalls {
				pc, ok := calls[tc.Index]
				if !ok {
					pc = &pendingCall{}
					calls[tc.Index] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args += tc.Function.Arguments
			}
			if ch.FinishReason != "" {
				send(ctx, out, model.Response{
					ID:           chunk.ID,
					Content:      finalContent(text.String(), calls),
					FinishReason: normalizeFinish(ch.FinishReason),
				})
				return
			}
		}
	}
	if err := s.Err(); err != nil {
		errCh <- fmt.Errorf("openai streaming error: %w", err)
	}
}

func finalContent(text string, calls map[int64]*pendingCall) core.Content {
	c := core.Content{Role: "assistant"}
	if text != "" {
		c.Parts = append(c.Parts, core.TextPart{Text: text})
	}
	idx := make([]int64, 0, len(calls))
	for i := range calls {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })
	for _, i := range idx {
		pc := calls[i]
		c.Parts = append(c.Parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: pc.id, Name: pc.name, Arguments: pc.args}})
	}
	return c
}

func (m *Model) complete(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response, errCh chan<- error) {
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		errCh <- fmt.Errorf("openai api error: %w", err)
		return
	}
	if len(resp.Choices) == 0 {
		errCh <- fmt.Errorf("openai returned no choices")
		return
	}
	ch := resp.Choices[0]
	c := core.Content{Role: "assistant"}
	if ch.Message.Content != "" {
		c.Parts = append(c.Parts, core.TextPart{Text: ch.Message.Content})
	}
	for _, tc := range ch.Message.ToolCalls {
		c.Parts = append(c.Parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments,
		}})
	}
	send(ctx, out, model.Response{
		ID:           resp.ID,
		Content:      c,
		FinishReason: normalizeFinish(ch.FinishReason),
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	})
}

func normalizeFinish(reason string) string {
	switch reason {
	case "tool_calls", "function_call":
		return model.FinishToolCalls
	case "length":
		return model.FinishLength
	case "", "stop":
		return model.FinishStop
	}
	return reason
}

func send(ctx context.Context, out chan<- model.Response, r model.Response) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- r:
		return true
	}
}

// Info describes the adapter.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: "openai", SupportsTools: true}
}
