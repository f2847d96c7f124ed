// Package retrieve fuses sparse and dense candidates into one ranked list per query.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ppiankov/disasterops/internal/corpus"
	"github.com/ppiankov/disasterops/internal/embed"
	"github.com/ppiankov/disasterops/internal/index"
	"github.com/ppiankov/disasterops/internal/model"
)

// ErrIndexUnavailable means the corpus infrastructure cannot serve queries.
// It is fatal for a run and never retried.
var ErrIndexUnavailable = errors.New("index unavailable")

var tracer = otel.Tracer("disasterops/retrieve")

// Options controls candidate generation and fusion
type Options struct {
	CandidateWindow int     // N per index
	Fusion          string  // model.FusionRRF or model.FusionWeighted
	Alpha           float64 // Dense weight
	RRFConstant     float64
	MinDenseSim     float64 // Dense candidates below this cosine are dropped; non-positive ones always are
}

// OptionsFromConfig maps the retrieval config section onto Options
func OptionsFromConfig(cfg model.RetrievalConfig) Options {
	return Options{
		CandidateWindow: cfg.CandidateWindow,
		Fusion:          cfg.Fusion,
		Alpha:           cfg.Alpha,
		RRFConstant:     cfg.RRFConstant,
		MinDenseSim:     cfg.MinDenseSimilarity,
	}
}

// Retriever answers hybrid queries over read-only indexes. It holds no
// mutable state and is safe for concurrent use.
type Retriever struct {
	store    corpus.Store
	sparse   *index.Sparse
	dense    *index.Dense
	embedder embed.Embedder
	reranker Reranker
	opts     Options
	logger   *zap.Logger
}

// Option configures a Retriever
type Option func(*Retriever)

// WithReranker enables the rerank pass over the fused top-k
func WithReranker(r Reranker) Option {
	return func(ret *Retriever) { ret.reranker = r }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(ret *Retriever) {
		if l != nil {
			ret.logger = l
		}
	}
}

// New creates a retriever. Missing components make every Retrieve call fail
// with ErrIndexUnavailable rather than failing construction.
func New(store corpus.Store, sparse *index.Sparse, dense *index.Dense, embedder embed.Embedder, opts Options, options ...Option) *Retriever {
	if opts.CandidateWindow <= 0 {
		opts.CandidateWindow = 20
	}
	if opts.Fusion == "" {
		opts.Fusion = model.FusionRRF
	}
	if opts.RRFConstant <= 0 {
		opts.RRFConstant = 60
	}
	r := &Retriever{
		store:    store,
		sparse:   sparse,
		dense:    dense,
		embedder: embedder,
		opts:     opts,
		logger:   zap.NewNop(),
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// Store returns the chunk store backing the indexes
func (r *Retriever) Store() corpus.Store {
	return r.store
}

// CandidateWindow returns the default N
func (r *Retriever) CandidateWindow() int {
	return r.opts.CandidateWindow
}

// Retrieve returns at most k results using the default candidate window
func (r *Retriever) Retrieve(ctx context.Context, q model.Query, k int) ([]model.ScoredResult, error) {
	return r.RetrieveWindow(ctx, q, k, r.opts.CandidateWindow)
}

// RetrieveWindow returns at most k results ordered by descending score,
// ties by ascending chunk id, drawing n candidates from each index.
func (r *Retriever) RetrieveWindow(ctx context.Context, q model.Query, k, n int) ([]model.ScoredResult, error) {
	ctx, span := tracer.Start(ctx, "retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("facet", string(q.Topic)),
		attribute.Int("k", k),
		attribute.Int("window", n),
	)

	if r == nil {
		span.SetStatus(codes.Error, "no retriever")
		return nil, ErrIndexUnavailable
	}

	start := time.Now()
	results, err := r.retrieve(ctx, q, k, n)
	retrievalDuration.WithLabelValues(r.opts.Fusion).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func (r *Retriever) retrieve(ctx context.Context, q model.Query, k, n int) ([]model.ScoredResult, error) {
	if r.store == nil || r.sparse == nil || r.dense == nil || r.embedder == nil {
		return nil, ErrIndexUnavailable
	}
	if k <= 0 || r.store.Len() == 0 {
		return []model.ScoredResult{}, nil
	}
	if n < k {
		n = k
	}

	sparseHits := r.sparse.Search(q.Text, n)

	var denseHits []index.Hit
	if r.dense.Len() > 0 {
		vec, err := embed.One(ctx, r.embedder, q.Text)
		if err != nil {
			return nil, fmt.Errorf("%w: embed query: %v", ErrIndexUnavailable, err)
		}
		denseHits, err = r.dense.Search(vec, n)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}
		denseHits = similarAbove(denseHits, r.opts.MinDenseSim)
	}

	var fused []model.ScoredResult
	switch r.opts.Fusion {
	case model.FusionWeighted:
		fused = fuseWeighted(sparseHits, denseHits, r.opts.Alpha)
	default:
		fused = fuseRRF(sparseHits, denseHits, r.opts.Alpha, r.opts.RRFConstant)
	}
	rank(fused)
	if len(fused) > k {
		fused = fused[:k]
	}

	if r.reranker != nil && len(fused) > 0 {
		if err := r.rerank(ctx, q, fused); err != nil {
			r.logger.Warn("rerank failed, keeping fused order",
				zap.String("facet", string(q.Topic)), zap.Error(err))
			for i := range fused {
				fused[i].Reranked = false
				fused[i].RerankScore = 0
			}
		}
		rank(fused)
	}

	r.logger.Debug("retrieved",
		zap.String("facet", string(q.Topic)),
		zap.Int("sparse_candidates", len(sparseHits)),
		zap.Int("dense_candidates", len(denseHits)),
		zap.Int("results", len(fused)))
	return fused, nil
}

// similarAbove keeps dense hits with positive similarity of at least floor.
// The dense index always returns its top n, related or not.
func similarAbove(hits []index.Hit, floor float64) []index.Hit {
	out := hits[:0]
	for _, h := range hits {
		if h.Score > 0 && h.Score >= floor {
			out = append(out, h)
		}
	}
	return out
}

func (r *Retriever) rerank(ctx context.Context, q model.Query, results []model.ScoredResult) error {
	candidates := make([]Candidate, len(results))
	for i, res := range results {
		c, err := r.store.Get(res.ChunkID)
		if err != nil {
			return err
		}
		candidates[i] = Candidate{ChunkID: c.ID, Text: c.Text, FusedScore: res.FusedScore}
	}
	scores, err := r.reranker.Rerank(ctx, q.Text, candidates)
	if err != nil {
		return err
	}
	if len(scores) != len(results) {
		return fmt.Errorf("reranker returned %d scores for %d candidates", len(scores), len(results))
	}
	for i := range results {
		results[i].RerankScore = scores[i]
		results[i].Reranked = true
	}
	return nil
}

// rank sorts by authoritative score then chunk id and assigns 1-based ranks
func rank(results []model.ScoredResult) {
	sort.Slice(results, func(i, j int) bool {
		si, sj := results[i].Score(), results[j].Score()
		if si != sj {
			return si > sj
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	for i := range results {
		results[i].Rank = i + 1
	}
}
