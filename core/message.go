package core

import (
	"fmt"
	"strings"
	"time"
)

// Role is the conversational role of a persisted message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	// RoleTerminal marks output captured from a terminal-like tool session.
	// It is replayed to models as system content.
	RoleTerminal Role = "terminal"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTerminal:
		return true
	}
	return false
}

// MessagePart is one ordered segment of message content. Only text parts
// exist today.
type MessagePart struct {
	Type string `json:"type" cbor:"1,keyasint"`
	Text string `json:"text" cbor:"2,keyasint"`
}

// PartTypeText is the MessagePart type for plain text.
const PartTypeText = "text"

// TextParts wraps text in a single-part slice.
func TextParts(text string) []MessagePart {
	return []MessagePart{{Type: PartTypeText, Text: text}}
}

// Message is an immutable persisted chat message. Seq is assigned by the
// persistence gateway and increases strictly within a room.
type Message struct {
	ID         string        `json:"id" cbor:"1,keyasint"`
	RoomID     string        `json:"roomId" cbor:"2,keyasint"`
	Seq        int64         `json:"seq" cbor:"3,keyasint"`
	AuthorID   string        `json:"authorId" cbor:"4,keyasint"`
	AuthorKind ActorKind     `json:"authorKind" cbor:"5,keyasint"`
	Role       Role          `json:"role" cbor:"6,keyasint"`
	Parts      []MessagePart `json:"parts" cbor:"7,keyasint"`
	CreatedAt  time.Time     `json:"createdAt" cbor:"8,keyasint"`
	// ReplyTo is the id of the message that triggered an agent reply.
	ReplyTo string `json:"replyTo,omitempty" cbor:"9,keyasint,omitempty"`
	// TurnID correlates an agent reply with its streaming turn.
	TurnID string `json:"turnId,omitempty" cbor:"10,keyasint,omitempty"`
}

// NextCreatedAt returns the creation time for a message appended after one
// created at last. A zero requested time means now. The result is always
// strictly after last so timestamps increase with Seq.
func NextCreatedAt(requested, now, last time.Time) time.Time {
	t := requested
	if t.IsZero() {
		t = now
	}
	if !last.IsZero() && !t.After(last) {
		t = last.Add(time.Nanosecond)
	}
	return t
}

// Text concatenates the text parts.
func (m Message) Text() string {
	if len(m.Parts) == 1 {
		return m.Parts[0].Text
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartTypeText || p.Type == "" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Validate checks the fields required before persistence.
func (m Message) Validate() error {
	if m.RoomID == "" {
		return fmt.Errorf("%w: message has no room", ErrInvalid)
	}
	if m.AuthorID == "" {
		return fmt.Errorf("%w: message has no author", ErrInvalid)
	}
	if !m.Role.Valid() {
		return fmt.Errorf("%w: message role %q", ErrInvalid, m.Role)
	}
	if strings.TrimSpace(m.Text()) == "" {
		return fmt.Errorf("%w: message content is empty", ErrInvalid)
	}
	return nil
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	out := m
	out.Parts = append([]MessagePart(nil), m.Parts...)
	return out
}

// ToContent converts the message into provider content, mapping the terminal
// role to system.
func (m Message) ToContent() Content {
	role := m.Role
	if role == RoleTerminal {
		role = RoleSystem
	}
	return Content{Role: string(role), Parts: []Part{TextPart{Text: m.Text()}}}
}
