// Package core provides the shared domain types and narrow collaborator
// contracts of agentroom. It defines:
//
//   - Actors (a tagged variant over human users and autonomous agents)
//   - Rooms, their ordered membership and persisted messages
//   - Read markers and the unread-count rule derived from them
//   - Relationships between actors (a read-only routing signal)
//   - Tool runs and the ToolContext handed to tool functions
//   - Content/Part values exchanged with generation providers
//   - The persistence Gateway and VectorIndex interfaces
//
// Implementation concerns (storage engines, transport, orchestration) live in
// sibling packages; core only exposes small interfaces so backends stay
// pluggable.
package core
