// Package anthropic implements model.Model on the Anthropic Messages API with
// streaming and tool use.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/model"
)

// Options configures the adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewModel creates a model with its own client (falling back to ANTHROPIC_API_KEY).
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a model on an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			Messages:    toMessages(req.Contents),
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
		}
		if sys := req.SystemText(); sys != "" {
			params.System = []anthropic.TextBlockParam{{Text: sys}}
		}
		if len(req.Tools) > 0 {
			params.Tools = toTools(req.Tools)
		}

		if req.Stream {
			m.stream(ctx, params, out, errCh)
			return
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}
		send(ctx, out, finalResponse(resp))
	}()

	return out, errCh
}

// stream forwards text deltas and accumulates the full message so tool use
// blocks can be reported on the final chunk.
func (m *Model) stream(ctx context.Context, params anthropic.MessageNewParams, out chan<- model.Response, errCh chan<- error) {
	s := m.client.Messages.NewStreaming(ctx, params)
	defer s.Close()

	message := anthropic.Message{}
	for s.Next() {
		event := s.Current()
		if err := message.Accumulate(event); err != nil {
			errCh <- fmt.Errorf("anthropic stream accumulate: %w", err)
			return
		}
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if d, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
				if !send(ctx, out, model.Response{Partial: true, Content: core.NewTextContent("assistant", d.Text)}) {
					return
				}
			}
		}
	}
	if err := s.Err(); err != nil {
		errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		return
	}
	send(ctx, out, finalResponse(&message))
}

func finalResponse(msg *anthropic.Message) model.Response {
	c := core.Content{Role: "assistant"}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if t := block.AsText().Text; t != "" {
				c.Parts = append(c.Parts, core.TextPart{Text: t})
			}
		case "tool_use":
			tu := block.AsToolUse()
			args := "{}"
			if tu.Input != nil {
				if b, err := json.Marshal(tu.Input); err == nil {
					args = string(b)
				}
			}
			c.Parts = append(c.Parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: tu.ID, Name: tu.Name, Arguments: args}})
		}
	}
	return model.Response{
		ID:           msg.ID,
		Content:      c,
		FinishReason: normalizeStop(string(msg.StopReason)),
		Usage: &model.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}

func normalizeStop(reason string) string {
	switch reason {
	case "tool_use":
		return model.FinishToolCalls
	case "max_tokens":
		return model.FinishLength
	default:
		return model.FinishStop
	}
}

// toMessages converts non-system contents. Tool results travel in user
// messages as tool_result blocks.
func toMessages(contents []core.Content) []anthropic.MessageParam {
	var msgs []anthropic.MessageParam
	for _, c := range contents {
		switch c.Role {
		case "system":
			continue
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if t := c.Text(); t != "" {
				blocks = append(blocks, anthropic.NewTextBlock(t))
			}
			for _, fc := range c.FunctionCalls() {
				var input any = map[string]any{}
				if fc.Arguments != "" {
					if err := json.Unmarshal([]byte(fc.Arguments), &input); err != nil {
						input = map[string]any{}
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(fc.ID, input, fc.Name))
			}
			if len(blocks) > 0 {
				msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			var blocks []anthropic.ContentBlockParamUnion
			for _, p := range c.Parts {
				fr, ok := p.(core.FunctionResponsePart)
				if !ok {
					continue
				}
				text, isErr := resultText(fr.FunctionResponse)
				blocks = append(blocks, anthropic.NewToolResultBlock(fr.FunctionResponse.ID, text, isErr))
			}
			if len(blocks) > 0 {
				msgs = append(msgs, anthropic.NewUserMessage(blocks...))
			}
		default:
			if t := c.Text(); t != "" {
				msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(t)))
			}
		}
	}
	return msgs
}

func resultText(fr core.FunctionResponse) (string, bool) {
	if fr.Error != "" {
		return fr.Error, true
	}
	if s, ok := fr.Response.(string); ok {
		return s, false
	}
	b, err := json.Marshal(fr.Response)
	if err != nil {
		return fmt.Sprintf("%v", fr.Response), false
	}
	return string(b), false
}

func toTools(defs []model.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(defs))
	for i, td := range defs {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if p := td.Function.Parameters; p != nil {
			schema.Properties = p["properties"]
			schema.Required = requiredFields(p["required"])
		}
		tools[i] = anthropic.ToolUnionParamOfTool(schema, td.Function.Name)
		if tools[i].OfTool != nil && td.Function.Description != "" {
			tools[i].OfTool.Description = anthropic.String(td.Function.Description)
		}
	}
	return tools
}

func requiredFields(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, x := range r {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
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
	return model.Info{Name: string(m.opts.Model), Provider: "anthropic", SupportsTools: true}
}
