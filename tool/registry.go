package tool

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/agentroom/model"
)

// Separator joins toolset and function into the model-visible name.
const Separator = "__"

// QualifiedName returns "toolset__function".
func QualifiedName(toolset, function string) string { return toolset + Separator + function }

// SplitName splits a qualified name. ok is false when name has no separator.
func SplitName(name string) (toolset, function string, ok bool) {
	return strings.Cut(name, Separator)
}

// Toolset groups related functions under one name. Agent definitions grant
// access per toolset.
type Toolset struct {
	Name        string
	Description string
	Functions   []Function
}

// Registry maps toolset names to their functions. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	toolsets map[string]map[string]Function
}

// NewRegistry creates a registry holding toolsets.
func NewRegistry(toolsets ...Toolset) (*Registry, error) {
	r := &Registry{toolsets: map[string]map[string]Function{}}
	for _, ts := range toolsets {
		if err := r.Register(ts); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a toolset. Names must be non-empty, free of the separator
// and unique.
func (r *Registry) Register(ts Toolset) error {
	if ts.Name == "" || strings.Contains(ts.Name, Separator) {
		return fmt.Errorf("invalid toolset name %q", ts.Name)
	}
	fns := make(map[string]Function, len(ts.Functions))
	for _, fn := range ts.Functions {
		name := fn.Name()
		if name == "" || strings.Contains(name, Separator) {
			return fmt.Errorf("invalid function name %q in toolset %s", name, ts.Name)
		}
		if _, dup := fns[name]; dup {
			return fmt.Errorf("duplicate function %s in toolset %s", name, ts.Name)
		}
		fns[name] = fn
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.toolsets[ts.Name]; exists {
		return fmt.Errorf("toolset %s already registered", ts.Name)
	}
	r.toolsets[ts.Name] = fns
	return nil
}

// Toolsets returns the registered toolset names, sorted.
func (r *Registry) Toolsets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.toolsets))
	for n := range r.toolsets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve looks up a qualified function name.
func (r *Registry) Resolve(qualified string) (string, Function, error) {
	toolset, function, ok := SplitName(qualified)
	if !ok {
		return "", nil, NewToolError(qualified, "tool name must be toolset"+Separator+"function", CodeNotFound)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fns, ok := r.toolsets[toolset]
	if !ok {
		return toolset, nil, NewToolError(qualified, "unknown toolset "+toolset, CodeNotFound)
	}
	fn, ok := fns[function]
	if !ok {
		return toolset, nil, NewToolError(qualified, "unknown function "+function, CodeNotFound)
	}
	return toolset, fn, nil
}

// Definitions returns model tool definitions for the allowed toolsets, ordered
// by qualified name. Unknown toolsets are skipped.
func (r *Registry) Definitions(allowed []string) []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var defs []model.ToolDefinition
	for _, ts := range allowed {
		fns, ok := r.toolsets[ts]
		if !ok {
			continue
		}
		for name, fn := range fns {
			defs = append(defs, model.ToolDefinition{
				Type: "function",
				Function: model.FunctionDefinition{
					Name:        QualifiedName(ts, name),
					Description: fn.Description(),
					Parameters:  fn.Parameters(),
				},
			})
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Function.Name < defs[j].Function.Name })
	return defs
}
