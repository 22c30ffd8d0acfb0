package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentroom/core"
)

// Step scripts one Generate call of a MockModel.
type Step struct {
	// Deltas are streamed as partial chunks in order.
	Deltas []string
	// ToolCalls end the step with FinishToolCalls.
	ToolCalls []core.FunctionCall
	// Err is sent after the deltas instead of a final chunk.
	Err error
	// Delay is waited before each delta.
	Delay time.Duration
	// Block waits for context cancellation after the deltas and reports ctx.Err().
	Block bool
	// Started, when non-nil, is closed once the first delta has been delivered.
	Started chan struct{}
}

// MockModel is an in-memory Model. Scripted steps are consumed one per
// Generate call; without a script it echoes the last user message word by word.
type MockModel struct {
	info Info

	mu       sync.Mutex
	steps    []Step
	requests []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string, steps ...Step) *MockModel {
	return &MockModel{
		info:  Info{Name: name, Provider: "mock", SupportsTools: true},
		steps: steps,
	}
}

// Script appends steps.
func (m *MockModel) Script(steps ...Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

// Requests returns the requests seen so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockModel) next(req Request) Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.steps) > 0 {
		s := m.steps[0]
		m.steps = m.steps[1:]
		return s
	}
	return echoStep(req)
}

func echoStep(req Request) Step {
	var last string
	for i := len(req.Contents) - 1; i >= 0; i-- {
		if req.Contents[i].Role == "user" {
			last = req.Contents[i].Text()
			break
		}
	}
	words := strings.Fields(fmt.Sprintf("Mock response to: %s", last))
	deltas := make([]string, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		deltas[i] = w
	}
	return Step{Deltas: deltas}
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response)
	errCh := make(chan error, 1)
	step := m.next(req)

	go func() {
		defer close(out)
		defer close(errCh)

		var full strings.Builder
		for i, d := range step.Deltas {
			if step.Delay > 0 {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case <-time.After(step.Delay):
				}
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- Response{Partial: true, Content: core.NewTextContent("assistant", d)}:
			}
			full.WriteString(d)
			if i == 0 && step.Started != nil {
				close(step.Started)
			}
		}
		if step.Block {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}
		if step.Err != nil {
			errCh <- step.Err
			return
		}

		final := core.Content{Role: "assistant"}
		if full.Len() > 0 {
			final.Parts = append(final.Parts, core.TextPart{Text: full.String()})
		}
		reason := FinishStop
		for _, fc := range step.ToolCalls {
			final.Parts = append(final.Parts, core.FunctionCallPart{FunctionCall: fc})
			reason = FinishToolCalls
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- Response{Content: final, FinishReason: reason}:
		}
	}()
	return out, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
