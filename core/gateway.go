package core

import (
	"context"
	"time"
)

// RoomStore persists rooms and their durable membership.
type RoomStore interface {
	CreateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	// AddRoomMember adds actorID to the room and reports whether membership changed.
	AddRoomMember(ctx context.Context, roomID, actorID string, joinedAt time.Time) (bool, error)
}

// ActorStore persists actors and agent definitions. Implementations reject
// duplicate handles (case-insensitive) and a second agent actor for the same
// definition with ErrConflict.
type ActorStore interface {
	PutActor(ctx context.Context, actor Actor) error
	GetActor(ctx context.Context, actorID string) (*Actor, error)
	GetActorByHandle(ctx context.Context, handle string) (*Actor, error)
	ListActors(ctx context.Context, actorIDs []string) ([]Actor, error)
	PutAgentDefinition(ctx context.Context, def AgentDefinition) error
	GetAgentDefinition(ctx context.Context, definitionID string) (*AgentDefinition, error)
}

// MessageStore persists room messages.
type MessageStore interface {
	// AppendMessage assigns the next room sequence number and stores msg. A
	// message whose id already exists in the room yields ErrConflict.
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	GetMessage(ctx context.Context, roomID, messageID string) (*Message, error)
	// ListMessages returns up to limit messages with Seq > afterSeq in sequence
	// order. limit <= 0 means no limit.
	ListMessages(ctx context.Context, roomID string, afterSeq int64, limit int) ([]Message, error)
	// RecentMessages returns the last n messages in chronological order.
	RecentMessages(ctx context.Context, roomID string, n int) ([]Message, error)
}

// MarkerStore persists read markers.
type MarkerStore interface {
	// AdvanceReadMarker stores marker unless an existing marker is at or past
	// its sequence; it returns the marker in effect afterwards.
	AdvanceReadMarker(ctx context.Context, marker ReadMarker) (ReadMarker, error)
	GetReadMarker(ctx context.Context, roomID, actorID string) (*ReadMarker, error)
	ListReadMarkers(ctx context.Context, roomID string) (map[string]ReadMarker, error)
}

// RelationshipStore exposes actor relationships.
type RelationshipStore interface {
	PutRelationship(ctx context.Context, rel Relationship) error
	ListRelationships(ctx context.Context, fromActorID string) ([]Relationship, error)
}

// Gateway is the persistence collaborator. Writes are visible to subsequent
// reads in the same room.
type Gateway interface {
	RoomStore
	ActorStore
	MessageStore
	MarkerStore
	RelationshipStore
	Close() error
}
