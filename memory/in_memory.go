package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentroom/core"
	"github.com/hupe1980/agentroom/embedding"
)

type entry struct {
	vector   []float32
	metadata map[string]any
}

// InMemoryIndex is a brute-force cosine VectorIndex guarded by an RWMutex.
// Stored vectors and metadata are copied on the way in and out.
type InMemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]entry
}

var _ core.VectorIndex = (*InMemoryIndex)(nil)

// NewInMemoryIndex creates an empty index.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{entries: make(map[string]entry)}
}

// Upsert stores or replaces the vector for id.
func (ix *InMemoryIndex) Upsert(_ context.Context, id string, vector []float32, metadata map[string]any) error {
	if id == "" {
		return fmt.Errorf("%w: vector id is empty", core.ErrInvalid)
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: vector %s is empty", core.ErrInvalid, id)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[id] = entry{vector: append([]float32(nil), vector...), metadata: copyMeta(metadata)}
	return nil
}

// Query scores every entry passing filter and returns the best topK.
func (ix *InMemoryIndex) Query(_ context.Context, vector []float32, topK int, filter core.VectorFilter) ([]core.VectorMatch, error) {
	if topK <= 0 || len(vector) == 0 {
		return []core.VectorMatch{}, nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	matches := make([]core.VectorMatch, 0, len(ix.entries))
	for id, e := range ix.entries {
		if !matchesFilter(e.metadata, filter) {
			continue
		}
		matches = append(matches, core.VectorMatch{ID: id, Score: embedding.Cosine(vector, e.vector), Metadata: copyMeta(e.metadata)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete removes id.
func (ix *InMemoryIndex) Delete(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, id)
}

// Len returns the number of stored vectors.
func (ix *InMemoryIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

func matchesFilter(md map[string]any, f core.VectorFilter) bool {
	if f.RoomID != "" {
		if v, _ := md[core.MetaRoomID].(string); v != f.RoomID {
			return false
		}
	}
	if f.Kind != "" {
		if v, _ := md[core.MetaKind].(string); v != f.Kind {
			return false
		}
	}
	return true
}

func copyMeta(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
