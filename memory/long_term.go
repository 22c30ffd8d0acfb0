package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/embedding"
)

// KindMessage tags vectors that were produced from persisted room messages.
const KindMessage = "message"

// Note is one recalled memory.
type Note struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AuthorID  string    `json:"authorId,omitempty"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// LongTerm remembers and recalls room messages through an embedder and a
// vector index.
type LongTerm struct {
	index    core.VectorIndex
	embedder embedding.Embedder
	minScore float64
}

// LongTermOptions configures LongTerm.
type LongTermOptions struct {
	// MinScore drops recalled notes scoring below it.
	MinScore float64
}

// NewLongTerm binds index and embedder.
func NewLongTerm(index core.VectorIndex, embedder embedding.Embedder, optFns ...func(o *LongTermOptions)) *LongTerm {
	opts := LongTermOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &LongTerm{index: index, embedder: embedder, minScore: opts.MinScore}
}

// Remember embeds msg and upserts it keyed by message id.
func (lt *LongTerm) Remember(ctx context.Context, msg core.Message) error {
	text := strings.TrimSpace(msg.Text())
	if text == "" {
		return nil
	}
	vec, err := lt.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed message %s: %w", msg.ID, err)
	}
	return lt.index.Upsert(ctx, msg.ID, vec, map[string]any{
		core.MetaRoomID:    msg.RoomID,
		core.MetaAuthorID:  msg.AuthorID,
		core.MetaKind:      KindMessage,
		core.MetaText:      text,
		core.MetaCreatedAt: msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// Recall returns up to topK notes from roomID most similar to query, best first.
func (lt *LongTerm) Recall(ctx context.Context, roomID, query string, topK int) ([]Note, error) {
	if topK <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	vec, err := lt.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := lt.index.Query(ctx, vec, topK, core.VectorFilter{RoomID: roomID})
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}
	notes := make([]Note, 0, len(matches))
	for _, m := range matches {
		if m.Score < lt.minScore {
			continue
		}
		n := Note{ID: m.ID, Text: m.Text(), Score: m.Score}
		n.AuthorID, _ = m.Metadata[core.MetaAuthorID].(string)
		if ts, ok := m.Metadata[core.MetaCreatedAt].(string); ok {
			n.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		}
		if n.Text != "" {
			notes = append(notes, n)
		}
	}
	return notes, nil
}
