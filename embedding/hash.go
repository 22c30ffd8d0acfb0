package embedding

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/hupe1980/agentroom/internal/textutil"
)

// HashEmbedder is a deterministic bag-of-words embedder using the hashing
// trick over tokens and token bigrams. It needs no network and is the
// default engine in tests and offline deployments.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates an embedder with dims dimensions (default 256).
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

// Embed implements Embedder.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, h.dims)
	tokens := textutil.Tokenize(text)
	for i, tok := range tokens {
		if textutil.IsStopWord(tok) {
			continue
		}
		h.add(v, tok, 1)
		if i > 0 {
			h.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return Normalize(v), nil
}

func (h *HashEmbedder) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

// EmbedBatch implements Embedder.
func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions implements Embedder.
func (h *HashEmbedder) Dimensions() int { return h.dims }

// Name implements Embedder.
func (h *HashEmbedder) Name() string { return fmt.Sprintf("hash:%d", h.dims) }
