package core

import "context"

// Metadata keys written alongside memory vectors.
const (
	MetaRoomID    = "room_id"
	MetaAuthorID  = "author_id"
	MetaKind      = "kind"
	MetaText      = "text"
	MetaCreatedAt = "created_at"
)

// VectorFilter restricts a vector query. Empty fields match everything.
type VectorFilter struct {
	RoomID string
	Kind   string
}

// VectorMatch is one query hit.
type VectorMatch struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Text returns the stored text metadata, if any.
func (m VectorMatch) Text() string {
	s, _ := m.Metadata[MetaText].(string)
	return s
}

// VectorIndex is the vector memory collaborator.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error
	// Query returns at most topK matches ordered by descending score.
	Query(ctx context.Context, vector []float32, topK int, filter VectorFilter) ([]VectorMatch, error)
}
