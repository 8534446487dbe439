package embeddings

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	gerrors "github.com/gorgonehq/gorgone/internal/errors"
)

// Embedder is the narrow slice of the embedding provider the service needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// OpenAIEmbedder implements Embedder over the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

// NewOpenAIEmbedder builds an embedder. baseURL overrides the provider
// endpoint for compatible gateways; empty uses the default.
func NewOpenAIEmbedder(apiKey, baseURL, model string) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIEmbedder{client: openai.NewClient(opts...), model: model}
}

// Model returns the configured model id, stored alongside cached vectors.
func (e *OpenAIEmbedder) Model() string {
	return e.model
}

// Embed requests embeddings for a batch of texts, returned in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, gerrors.WrapConnection("embed", "embedding", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, gerrors.WrapParse("embed", "embedding",
			fmt.Errorf("provider returned %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}

	out := make([][]float64, len(texts))
	for _, datum := range resp.Data {
		idx := int(datum.Index)
		if idx < 0 || idx >= len(out) {
			return nil, gerrors.WrapParse("embed", "embedding",
				fmt.Errorf("embedding index %d out of range", idx))
		}
		out[idx] = datum.Embedding
	}
	return out, nil
}
