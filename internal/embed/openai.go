package embed

import (
	"context"
	"fmt"

	"github.com/ppiankov/disasterops/internal/model"
	"github.com/sashabaranov/go-openai"
)

// OpenAI embeds text with the OpenAI embeddings API
type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAI creates an OpenAI embedder. BaseURL allows compatible endpoints.
func NewOpenAI(cfg model.EmbeddingConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required for embeddings")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	m := cfg.Model
	if m == "" {
		m = string(openai.SmallEmbedding3)
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		model:  m,
		dim:    cfg.Dimension,
	}, nil
}

// Name returns the embedder identity
func (o *OpenAI) Name() string {
	return "openai/" + o.model
}

// Dimension returns the requested vector length
func (o *OpenAI) Dimension() int {
	return o.dim
}

// Embed calls the embeddings endpoint once for the whole batch
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	}
	if o.dim > 0 {
		req.Dimensions = o.dim
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("OpenAI embeddings error: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d for %d inputs", ErrEmptyResponse, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("OpenAI embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
