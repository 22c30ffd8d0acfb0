package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentroom/core"
)

// RoomBuilder helps construct rooms with ordered membership for tests.
// Example:
//
//	err := NewRoomBuilder("r1").Title("General").Members("u1", "a1").Store(ctx, gw)
type RoomBuilder struct {
	id      string
	title   string
	base    time.Time
	members []string
}

// NewRoomBuilder creates a builder for a room with the given id. Members join
// one millisecond apart starting at the current time.
func NewRoomBuilder(id string) *RoomBuilder {
	return &RoomBuilder{id: id, title: id, base: time.Now().UTC()}
}

// Title sets the room title (chainable).
func (b *RoomBuilder) Title(title string) *RoomBuilder {
	b.title = title
	return b
}

// JoinedFrom sets the join time of the first member (chainable).
func (b *RoomBuilder) JoinedFrom(t time.Time) *RoomBuilder {
	b.base = t
	return b
}

// Members appends members in join order (chainable).
func (b *RoomBuilder) Members(actorIDs ...string) *RoomBuilder {
	b.members = append(b.members, actorIDs...)
	return b
}

func (b *RoomBuilder) joinedAt(i int) time.Time {
	return b.base.Add(time.Duration(i) * time.Millisecond)
}

// Build returns the room value.
func (b *RoomBuilder) Build() core.Room {
	r := core.NewRoom(b.id, b.title)
	for i, id := range b.members {
		r.AddMember(id, b.joinedAt(i))
	}
	return r
}

// Store creates the room in rs and adds its members.
func (b *RoomBuilder) Store(ctx context.Context, rs core.RoomStore) error {
	if err := rs.CreateRoom(ctx, core.NewRoom(b.id, b.title)); err != nil {
		return fmt.Errorf("create room %s: %w", b.id, err)
	}
	for i, id := range b.members {
		if _, err := rs.AddRoomMember(ctx, b.id, id, b.joinedAt(i)); err != nil {
			return fmt.Errorf("add member %s: %w", id, err)
		}
	}
	return nil
}
