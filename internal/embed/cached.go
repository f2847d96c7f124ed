package embed

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ppiankov/disasterops/internal/cache"
)

// Cached memoises vectors from an inner embedder. Only cache misses reach
// the inner embedder, in a single batch.
type Cached struct {
	inner Embedder
	cache cache.Cache
	ttl   time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached wraps inner with c
func NewCached(inner Embedder, c cache.Cache, ttl time.Duration) *Cached {
	return &Cached{inner: inner, cache: c, ttl: ttl}
}

// Name returns the inner embedder's identity
func (c *Cached) Name() string {
	return c.inner.Name()
}

// Dimension returns the inner embedder's dimension
func (c *Cached) Dimension() int {
	return c.inner.Dimension()
}

// Embed serves hits from cache and embeds the rest
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	name := c.inner.Name()
	for i, t := range texts {
		if vec, ok := c.cache.Get(cache.Key(name, t)); ok {
			out[i] = vec
			c.hits.Add(1)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	c.misses.Add(int64(len(missTexts)))
	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d for %d inputs", ErrEmptyResponse, len(vecs), len(missTexts))
	}
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		_ = c.cache.Set(cache.Key(name, missTexts[j]), vec, c.ttl)
	}
	return out, nil
}

// Stats returns cumulative cache hits and misses
func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
