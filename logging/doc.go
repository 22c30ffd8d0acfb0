// Package logging provides the minimal Logger interface used throughout
// agentroom together with adapters for log/slog and go.uber.org/zap.
//
// Components accept a Logger via their options and never construct one on
// their own; a nil logger is replaced by NoOpLogger. Messages are dotted event
// names ("turn.start", "ws.read.error") followed by key/value pairs:
//
//	logger := logging.New(logging.Config{Level: logging.LogLevelInfo, Format: "json"})
//	logger.Info("room.join", "room_id", roomID, "actor_id", actorID)
//
// With attaches fixed attributes (component, room, turn) when the backend
// supports it.
package logging
