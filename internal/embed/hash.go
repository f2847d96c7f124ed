package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/ppiankov/disasterops/internal/index"
)

// DefaultHashDimension is used when no dimension is configured
const DefaultHashDimension = 256

// Hash is a deterministic feature-hashing embedder. It needs no network and
// gives lexical-overlap similarity, which makes it suitable for offline
// runs and tests.
type Hash struct {
	dim int
}

// NewHash creates a hashing embedder with dim buckets
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &Hash{dim: dim}
}

// Name returns the embedder identity
func (h *Hash) Name() string {
	return fmt.Sprintf("hash/fnv-%d", h.dim)
}

// Dimension returns the vector length
func (h *Hash) Dimension() int {
	return h.dim
}

// Embed hashes unigrams and bigrams into signed buckets, then L2-normalises
func (h *Hash) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *Hash) vector(text string) []float32 {
	vec := make([]float64, h.dim)
	tokens := index.Tokenize(text)
	for i, tok := range tokens {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	out := make([]float32, h.dim)
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func (h *Hash) add(vec []float64, feature string, weight float64) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	bucket := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[bucket] += weight
}
