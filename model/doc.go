// Package model defines the provider-agnostic generation contract used by the
// orchestrator and concrete helpers around it.
//
//   - Model streams Response chunks: text deltas (Partial) followed by one
//     final chunk carrying the aggregated content, any function calls and a
//     finish reason.
//   - ToolDefinition describes callable functions to providers.
//   - Registry resolves the model named by an agent definition.
//   - MockModel plays scripted turns for tests and offline runs.
//
// Vendor adapters live in the openai, anthropic and gemini subpackages.
package model
