// Package embed provides the embed(text) capability used by the dense index.
package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/disasterops/internal/cache"
	"github.com/ppiankov/disasterops/internal/model"
)

// ErrEmptyResponse is returned when a provider answers without vectors
var ErrEmptyResponse = errors.New("embedding provider returned no vectors")

// Embedder turns text into vectors. Implementations are safe for concurrent use.
type Embedder interface {
	// Name identifies provider and model, e.g. "openai/text-embedding-3-small".
	// Vectors from embedders with different names are not comparable.
	Name() string

	// Dimension is the vector length, 0 if unknown until the first call
	Dimension() int

	// Embed returns one vector per text, in input order
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// New builds the embedder named by cfg, wrapped in c when c is non-nil
func New(cfg model.EmbeddingConfig, c cache.Cache, ttl time.Duration) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", "hash":
		e = NewHash(cfg.Dimension)
	case "openai":
		e, err = NewOpenAI(cfg)
	case "ollama":
		e, err = NewOllama(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: hash, openai, ollama)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if c != nil {
		e = NewCached(e, c, ttl)
	}
	return e, nil
}

// One embeds a single text
func One(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d for 1 input", ErrEmptyResponse, len(vecs))
	}
	return vecs[0], nil
}

// All embeds every chunk in batches of batchSize, keyed by chunk id
func All(ctx context.Context, e Embedder, chunks []model.Chunk, batchSize int) (map[string][]float32, error) {
	if batchSize <= 0 {
		batchSize = 64
	}
	out := make(map[string][]float32, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vecs, err := e.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("%w: got %d for %d inputs", ErrEmptyResponse, len(vecs), len(texts))
		}
		for i, c := range chunks[start:end] {
			out[c.ID] = vecs[i]
		}
	}
	return out, nil
}
