package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	openai "github.com/amikos-tech/chroma-go/pkg/embeddings/openai"
)

// OpenAIConfig selects the embedding model.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	Dimensions int
}

// OpenAI embeds through the OpenAI API using chroma-go's client.
type OpenAI struct {
	fn  embeddings.EmbeddingFunction
	dim int
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI builds the embedding function.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	var (
		fn  embeddings.EmbeddingFunction
		err error
	)
	if cfg.Model != "" {
		fn, err = openai.NewOpenAIEmbeddingFunction(cfg.APIKey, openai.WithModel(openai.EmbeddingModel(cfg.Model)))
	} else {
		fn, err = openai.NewOpenAIEmbeddingFunction(cfg.APIKey)
	}
	if err != nil {
		return nil, fmt.Errorf("create openai embedding function: %w", err)
	}
	return &OpenAI{fn: fn, dim: cfg.Dimensions}, nil
}

// Function exposes the underlying chroma-go embedding function so a Chroma
// collection can embed with the same model.
func (o *OpenAI) Function() embeddings.EmbeddingFunction {
	return o.fn
}

// Dimensions returns the configured width, or 0 when the model decides.
func (o *OpenAI) Dimensions() int {
	return o.dim
}

// Embed encodes texts in one request.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	embs, err := o.fn.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	out := make([][]float32, len(embs))
	for i, e := range embs {
		out[i] = e.ContentAsFloat32()
	}
	return out, nil
}
