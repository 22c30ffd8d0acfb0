package testutil

import "github.com/hupe1980/agentroom/core"

// UserMessage returns an unsequenced user message ready for AppendMessage.
func UserMessage(roomID, authorID, text string) core.Message {
	return core.Message{
		RoomID:     roomID,
		AuthorID:   authorID,
		AuthorKind: core.ActorUser,
		Role:       core.RoleUser,
		Parts:      core.TextParts(text),
	}
}

// AgentMessage returns an unsequenced assistant message replying to replyTo.
func AgentMessage(roomID, authorID, replyTo, text string) core.Message {
	return core.Message{
		RoomID:     roomID,
		AuthorID:   authorID,
		AuthorKind: core.ActorAgent,
		Role:       core.RoleAssistant,
		Parts:      core.TextParts(text),
		ReplyTo:    replyTo,
	}
}
