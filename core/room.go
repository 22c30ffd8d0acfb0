package core

import (
	"fmt"
	"sort"
	"time"
)

// Member is one room membership entry.
type Member struct {
	ActorID  string    `json:"actorId" yaml:"actor_id" cbor:"1,keyasint"`
	JoinedAt time.Time `json:"joinedAt" yaml:"joined_at" cbor:"2,keyasint"`
}

// Room is a shared conversation space. Members are ordered by join time and
// contain no duplicate actor ids.
type Room struct {
	ID        string    `json:"id" yaml:"id" cbor:"1,keyasint"`
	Title     string    `json:"title,omitempty" yaml:"title" cbor:"2,keyasint,omitempty"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at" cbor:"3,keyasint"`
	Members   []Member  `json:"members" yaml:"members" cbor:"4,keyasint"`
}

// NewRoom creates an empty room.
func NewRoom(id, title string) Room {
	return Room{ID: id, Title: title, CreatedAt: time.Now().UTC(), Members: []Member{}}
}

// HasMember reports whether actorID belongs to the room.
func (r Room) HasMember(actorID string) bool {
	_, ok := r.Member(actorID)
	return ok
}

// Member returns the membership entry for actorID.
func (r Room) Member(actorID string) (Member, bool) {
	for _, m := range r.Members {
		if m.ActorID == actorID {
			return m, true
		}
	}
	return Member{}, false
}

// AddMember appends actorID unless already present and reports whether the
// membership changed.
func (r *Room) AddMember(actorID string, joinedAt time.Time) bool {
	if r.HasMember(actorID) {
		return false
	}
	r.Members = append(r.Members, Member{ActorID: actorID, JoinedAt: joinedAt})
	sort.SliceStable(r.Members, func(i, j int) bool {
		return r.Members[i].JoinedAt.Before(r.Members[j].JoinedAt)
	})
	return true
}

// MemberIDs returns member ids in join order.
func (r Room) MemberIDs() []string {
	ids := make([]string, len(r.Members))
	for i, m := range r.Members {
		ids[i] = m.ActorID
	}
	return ids
}

// Validate checks the membership invariants.
func (r Room) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: room id is empty", ErrInvalid)
	}
	seen := make(map[string]struct{}, len(r.Members))
	for _, m := range r.Members {
		if _, dup := seen[m.ActorID]; dup {
			return fmt.Errorf("%w: room %s lists member %s twice", ErrInvalid, r.ID, m.ActorID)
		}
		seen[m.ActorID] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy.
func (r Room) Clone() Room {
	out := r
	out.Members = append([]Member(nil), r.Members...)
	return out
}

// RelationshipStatus is the lifecycle state of a Relationship.
type RelationshipStatus string

const (
	RelationshipPending  RelationshipStatus = "pending"
	RelationshipAccepted RelationshipStatus = "accepted"
	RelationshipBlocked  RelationshipStatus = "blocked"
)

// Relationship is a directed link between two actors. It is never mutated
// here and only feeds relevance scoring.
type Relationship struct {
	FromID string             `json:"fromId" yaml:"from_id" cbor:"1,keyasint"`
	ToID   string             `json:"toId" yaml:"to_id" cbor:"2,keyasint"`
	Kind   string             `json:"kind" yaml:"kind" cbor:"3,keyasint"`
	Status RelationshipStatus `json:"status" yaml:"status" cbor:"4,keyasint"`
}
