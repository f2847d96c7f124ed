package worker

import (
	"context"

	"github.com/ppiankov/disasterops/internal/embed"
	"github.com/ppiankov/disasterops/internal/llm"
)

// RateLimitedGenerator waits on the limiter, keyed by generator name,
// before every call
type RateLimitedGenerator struct {
	inner   llm.Generator
	limiter *Limiter
}

// NewRateLimitedGenerator wraps g. Concurrent runs sharing one limiter share
// the provider's budget.
func NewRateLimitedGenerator(g llm.Generator, l *Limiter) *RateLimitedGenerator {
	return &RateLimitedGenerator{inner: g, limiter: l}
}

func (g *RateLimitedGenerator) Name() string { return g.inner.Name() }

func (g *RateLimitedGenerator) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.Generation, error) {
	if err := g.limiter.Wait(ctx, g.inner.Name()); err != nil {
		return nil, err
	}
	return g.inner.Generate(ctx, req)
}

// RateLimitedEmbedder throttles a remote embedding provider
type RateLimitedEmbedder struct {
	inner   embed.Embedder
	limiter *Limiter
}

// NewRateLimitedEmbedder wraps e
func NewRateLimitedEmbedder(e embed.Embedder, l *Limiter) *RateLimitedEmbedder {
	return &RateLimitedEmbedder{inner: e, limiter: l}
}

func (e *RateLimitedEmbedder) Name() string   { return e.inner.Name() }
func (e *RateLimitedEmbedder) Dimension() int { return e.inner.Dimension() }

func (e *RateLimitedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx, e.inner.Name()); err != nil {
		return nil, err
	}
	return e.inner.Embed(ctx, texts)
}
