package model

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentroom/core"
)

// Finish reasons reported on the final Response.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
	FinishError     = "error"
)

// ToolDefinition exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes one function. Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the normalized model input. Contents start with the system entry
// produced by the context assembler.
type Request struct {
	Contents []core.Content  `json:"contents"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Stream   bool             `json:"stream,omitempty"`
}

// SystemText joins the text of all system contents.
func (r Request) SystemText() string {
	var out string
	for _, c := range r.Contents {
		if c.Role != "system" {
			continue
		}
		if t := c.Text(); t != "" {
			if out != "" {
				out += "\n\n"
			}
			out += t
		}
	}
	return out
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a streamed chunk. Partial chunks carry a single text delta; the
// final chunk carries the full text, function call parts and FinishReason.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"`
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Delta returns the text carried by a partial chunk.
func (r Response) Delta() string {
	if !r.Partial {
		return ""
	}
	return r.Content.Text()
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model streams a generation. Implementations close both channels when done
// and send at most one error.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)
	Info() Info
}

// Registry maps model keys (as referenced by agent definitions) to models.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]Model
	fallback string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: map[string]Model{}}
}

// Register adds m under name. The first registered model becomes the default.
func (r *Registry) Register(name string, m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = m
	if r.fallback == "" {
		r.fallback = name
	}
}

// SetDefault selects the model used when a definition names none.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[name]; !ok {
		return fmt.Errorf("model %q is not registered", name)
	}
	r.fallback = name
	return nil
}

// Resolve returns the model registered under name, or the default model when
// name is empty.
func (r *Registry) Resolve(name string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.fallback
	}
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("model %q is not registered", name)
	}
	return m, nil
}

// Names lists registered keys in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for n := range r.models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
