package retrieve

import (
	"context"
	"fmt"

	"github.com/ppiankov/disasterops/internal/corpus"
	"github.com/ppiankov/disasterops/internal/embed"
	"github.com/ppiankov/disasterops/internal/index"
)

// IndexParams are the BM25 parameters used when building the sparse index
type IndexParams struct {
	K1 float64
	B  float64
}

// Build constructs both indexes over store. When vectors is nil every chunk
// is embedded with embedder; otherwise the precomputed vectors are used.
// This is the offline build step; the resulting Retriever is read-only.
func Build(ctx context.Context, store corpus.Store, embedder embed.Embedder, vectors map[string][]float32, params IndexParams, opts Options, options ...Option) (*Retriever, error) {
	if store == nil || embedder == nil {
		return nil, ErrIndexUnavailable
	}

	sparse := index.NewSparse(store.All(), params.K1, params.B)

	if vectors == nil {
		var err error
		vectors, err = embed.All(ctx, embedder, store.All(), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: embed corpus: %v", ErrIndexUnavailable, err)
		}
	}
	for id := range vectors {
		if _, err := store.Get(id); err != nil {
			return nil, fmt.Errorf("embedding for unknown chunk: %w", err)
		}
	}

	dense, err := index.NewDense(vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	if dense.Len() > 0 && embedder.Dimension() > 0 && dense.Dimension() != embedder.Dimension() {
		return nil, fmt.Errorf("%w: corpus vectors have dimension %d, embedder %s has %d",
			ErrIndexUnavailable, dense.Dimension(), embedder.Name(), embedder.Dimension())
	}

	return New(store, sparse, dense, embedder, opts, options...), nil
}
