// Package builtin provides the toolsets every deployment registers: read
// access to the current room and search over long-term memory.
package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/internal/util"
	"github.com/hupe1980/agentroom/memory"
	"github.com/hupe1980/agentroom/tool"
)

// Toolset names.
const (
	RoomToolset   = "room"
	MemoryToolset = "memory"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// RoomReader is the part of the gateway the room toolset needs.
type RoomReader interface {
	GetRoom(ctx context.Context, roomID string) (*core.Room, error)
	ListActors(ctx context.Context, actorIDs []string) ([]core.Actor, error)
	RecentMessages(ctx context.Context, roomID string, n int) ([]core.Message, error)
}

// Recaller is the part of long-term memory the memory toolset needs.
type Recaller interface {
	Recall(ctx context.Context, roomID, query string, topK int) ([]memory.Note, error)
}

type historyArgs struct {
	Limit int `json:"limit,omitempty" description:"Maximum number of messages to return (default 20, max 100)"`
}

// HistoryEntry is one message returned by room__history.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Author    string    `json:"author"`
	Role      core.Role `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Participant is one member returned by room__participants.
type Participant struct {
	ID           string         `json:"id"`
	Handle       string         `json:"handle"`
	Name         string         `json:"name"`
	Kind         core.ActorKind `json:"kind"`
	Capabilities []string       `json:"capabilities,omitempty"`
	JoinedAt     time.Time      `json:"joinedAt"`
}

// Room returns the "room" toolset bound to the tool context's room.
func Room(reader RoomReader) tool.Toolset {
	history := tool.NewFunctionToolFromStruct(
		"history",
		"Read the most recent messages of the current room in chronological order.",
		historyArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			limit := clamp(util.IntArg(args, "limit", defaultLimit))
			msgs, err := reader.RecentMessages(tc.Context(), tc.RoomID(), limit)
			if err != nil {
				return nil, fmt.Errorf("load history: %w", err)
			}
			names := map[string]string{}
			if room, err := reader.GetRoom(tc.Context(), tc.RoomID()); err == nil {
				if actors, err := reader.ListActors(tc.Context(), room.MemberIDs()); err == nil {
					for _, a := range actors {
						names[a.ID] = a.Name()
					}
				}
			}
			out := make([]HistoryEntry, len(msgs))
			for i, m := range msgs {
				author := names[m.AuthorID]
				if author == "" {
					author = m.AuthorID
				}
				out[i] = HistoryEntry{ID: m.ID, Seq: m.Seq, Author: author, Role: m.Role, Text: m.Text(), CreatedAt: m.CreatedAt}
			}
			return out, nil
		},
	)

	participants := tool.NewFunctionTool(
		"participants",
		"List the members of the current room with their handles and capabilities.",
		nil,
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			room, err := reader.GetRoom(tc.Context(), tc.RoomID())
			if err != nil {
				return nil, fmt.Errorf("load room: %w", err)
			}
			actors, err := reader.ListActors(tc.Context(), room.MemberIDs())
			if err != nil {
				return nil, fmt.Errorf("load members: %w", err)
			}
			byID := make(map[string]core.Actor, len(actors))
			for _, a := range actors {
				byID[a.ID] = a
			}
			out := make([]Participant, 0, len(room.Members))
			for _, m := range room.Members {
				a, ok := byID[m.ActorID]
				if !ok {
					continue
				}
				out = append(out, Participant{
					ID: a.ID, Handle: a.Handle, Name: a.Name(), Kind: a.Kind,
					Capabilities: a.Capabilities, JoinedAt: m.JoinedAt,
				})
			}
			return out, nil
		},
	)

	return tool.Toolset{
		Name:        RoomToolset,
		Description: "Read-only access to the current room",
		Functions:   []tool.Function{history, participants},
	}
}

type searchArgs struct {
	Query string `json:"query" description:"What to look for"`
	Limit int    `json:"limit,omitempty" description:"Maximum number of notes (default 5)"`
}

// Memory returns the "memory" toolset searching the current room's long-term memory.
func Memory(recaller Recaller) tool.Toolset {
	search := tool.NewFunctionToolFromStruct(
		"search",
		"Search earlier conversation in the current room for passages related to a query.",
		searchArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			query := util.StringArg(args, "query")
			if query == "" {
				return nil, tool.NewToolError(QualifiedSearch, "query must not be empty", tool.CodeValidation)
			}
			notes, err := recaller.Recall(tc.Context(), tc.RoomID(), query, clampTo(util.IntArg(args, "limit", 5), 20))
			if err != nil {
				return nil, err
			}
			if notes == nil {
				notes = []memory.Note{}
			}
			return notes, nil
		},
	)
	return tool.Toolset{
		Name:        MemoryToolset,
		Description: "Semantic search over room memory",
		Functions:   []tool.Function{search},
	}
}

// QualifiedSearch is the model-visible name of the memory search function.
var QualifiedSearch = tool.QualifiedName(MemoryToolset, "search")

func clamp(n int) int { return clampTo(n, maxLimit) }

func clampTo(n, upper int) int {
	if n <= 0 {
		return 1
	}
	if n > upper {
		return upper
	}
	return n
}
