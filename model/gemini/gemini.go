// Package gemini implements model.Model on the Google Gen AI SDK with
// streaming and function calling.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/model"
	"google.golang.org/genai"
)

// Options configures the adapter.
type Options struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	APIKey          string
}

// Model wraps client.Models.GenerateContentStream.
type Model struct {
	client *genai.Client
	opts   Options
}

// NewModel creates a client for the Gemini API backend.
func NewModel(ctx context.Context, optFns ...func(o *Options)) (*Model, error) {
	opts := Options{Model: "gemini-2.0-flash", Temperature: 0.7, MaxOutputTokens: 4096}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Model{client: client, opts: opts}, nil
}

// Generate implements model.Model. Non-streaming requests are served from the
// same stream with deltas suppressed.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		var (
			text   strings.Builder
			calls  []core.FunctionCall
			finish = model.FinishStop
		)
		for resp, err := range m.client.Models.GenerateContentStream(ctx, m.opts.Model, toContents(req.Contents), m.config(req)) {
			if err != nil {
				errCh <- fmt.Errorf("gemini streaming error: %w", err)
				return
			}
			if resp == nil || len(resp.Candidates) == 0 {
				continue
			}
			cand := resp.Candidates[0]
			if cand.Content != nil {
				for _, p := range cand.Content.Parts {
					if p == nil || p.Thought {
						continue
					}
					if p.FunctionCall != nil {
						args, _ := json.Marshal(p.FunctionCall.Args)
						id := p.FunctionCall.ID
						if id == "" {
							id = core.NewID()
						}
						calls = append(calls, core.FunctionCall{ID: id, Name: p.FunctionCall.Name, Arguments: string(args)})
						continue
					}
					if p.Text == "" {
						continue
					}
					text.WriteString(p.Text)
					if req.Stream && !send(ctx, out, model.Response{Partial: true, Content: core.NewTextContent("assistant", p.Text)}) {
						return
					}
				}
			}
			if cand.FinishReason == genai.FinishReasonMaxTokens {
				finish = model.FinishLength
			}
		}

		final := core.Content{Role: "assistant"}
		if text.Len() > 0 {
			final.Parts = append(final.Parts, core.TextPart{Text: text.String()})
		}
		for _, fc := range calls {
			final.Parts = append(final.Parts, core.FunctionCallPart{FunctionCall: fc})
		}
		if len(calls) > 0 {
			finish = model.FinishToolCalls
		}
		send(ctx, out, model.Response{Content: final, FinishReason: finish})
	}()

	return out, errCh
}

func (m *Model) config(req model.Request) *genai.GenerateContentConfig {
	temp := m.opts.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: m.opts.MaxOutputTokens,
	}
	if sys := req.SystemText(); sys != "" {
		cfg.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, td := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 td.Function.Name,
				Description:          td.Function.Description,
				ParametersJsonSchema: td.Function.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// toContents maps roles onto user/model turns. Function responses are sent
// back in a user turn.
func toContents(contents []core.Content) []*genai.Content {
	var out []*genai.Content
	for _, c := range contents {
		switch c.Role {
		case "system":
			continue
		case "assistant":
			var parts []*genai.Part
			if t := c.Text(); t != "" {
				parts = append(parts, genai.NewPartFromText(t))
			}
			for _, fc := range c.FunctionCalls() {
				args := map[string]any{}
				if fc.Arguments != "" {
					_ = json.Unmarshal([]byte(fc.Arguments), &args)
				}
				part := genai.NewPartFromFunctionCall(fc.Name, args)
				part.FunctionCall.ID = fc.ID
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				out = append(out, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case "tool":
			var parts []*genai.Part
			for _, p := range c.Parts {
				fr, ok := p.(core.FunctionResponsePart)
				if !ok {
					continue
				}
				payload := map[string]any{"output": fr.FunctionResponse.Response}
				if fr.FunctionResponse.Error != "" {
					payload = map[string]any{"error": fr.FunctionResponse.Error}
				}
				part := genai.NewPartFromFunctionResponse(fr.FunctionResponse.Name, payload)
				part.FunctionResponse.ID = fr.FunctionResponse.ID
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				out = append(out, genai.NewContentFromParts(parts, genai.RoleUser))
			}
		default:
			if t := c.Text(); t != "" {
				out = append(out, genai.NewContentFromText(t, genai.RoleUser))
			}
		}
	}
	return out
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
	return model.Info{Name: m.opts.Model, Provider: "gemini", SupportsTools: true}
}
