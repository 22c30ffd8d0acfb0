package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAIEmbedder generates embeddings with the Gemini API.
type GenAIEmbedder struct {
	client   *genai.Client
	model    string
	taskType string
	dims     int
}

// NewGenAIEmbedder creates an embedder. taskType defaults to SEMANTIC_SIMILARITY.
func NewGenAIEmbedder(ctx context.Context, apiKey, model, taskType string, dims int) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai api key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if taskType == "" {
		taskType = "SEMANTIC_SIMILARITY"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GenAIEmbedder{client: client, model: model, taskType: taskType, dims: dims}, nil
}

// Embed implements Embedder.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch implements Embedder.
func (e *GenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{TaskType: e.taskType}
	if e.dims > 0 {
		d := int32(e.dims)
		cfg.OutputDimensionality = &d
	}
	res, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("genai embed failed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("genai returned %d embeddings for %d inputs", len(res.Embeddings), len(texts))
	}
	out := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// Dimensions implements Embedder.
func (e *GenAIEmbedder) Dimensions() int {
	if e.dims > 0 {
		return e.dims
	}
	return 768
}

// Name implements Embedder.
func (e *GenAIEmbedder) Name() string { return "genai:" + e.model }
