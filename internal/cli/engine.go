package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/disasterops/internal/cache"
	"github.com/ppiankov/disasterops/internal/corpus"
	"github.com/ppiankov/disasterops/internal/embed"
	"github.com/ppiankov/disasterops/internal/llm"
	"github.com/ppiankov/disasterops/internal/model"
	"github.com/ppiankov/disasterops/internal/pipeline"
	"github.com/ppiankov/disasterops/internal/retrieve"
	"github.com/ppiankov/disasterops/internal/telemetry"
	"github.com/ppiankov/disasterops/internal/verify"
	"github.com/ppiankov/disasterops/internal/worker"
)

// errNoCorpus is returned when neither a chunk file nor a snapshot is configured
var errNoCorpus = errors.New("no corpus configured: set corpus.chunks_path or corpus.sqlite_path (or pass --chunks / --db)")

// session is everything one command invocation needs
type session struct {
	cfg       *model.Config
	logger    *zap.Logger
	limiter   *worker.Limiter
	embedder  embed.Embedder
	retriever *retrieve.Retriever
	closeFn   func()
}

func (s *session) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// corpusFlags overrides the corpus location from the command line
type corpusFlags struct {
	chunks     string
	citations  string
	db         string
	embeddings string
}

func (f corpusFlags) apply(cfg *model.Config) {
	if f.chunks != "" {
		cfg.Corpus.ChunksPath = f.chunks
	}
	if f.citations != "" {
		cfg.Corpus.CitationIndexPath = f.citations
	}
	if f.db != "" {
		cfg.Corpus.SQLitePath = f.db
	}
	if f.embeddings != "" {
		cfg.Embedding.EmbeddingsPath = f.embeddings
	}
}

// openSession loads config, logger and embedder. The retriever is built
// only when withIndex is set.
func openSession(ctx context.Context, flags corpusFlags, withIndex bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	flags.apply(cfg)
	if verbose && strings.EqualFold(cfg.Logging.Level, "info") {
		cfg.Logging.Level = "debug"
	}

	logger, syncLog, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:     cfg,
		logger:  logger,
		limiter: worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize),
		closeFn: syncLog,
	}

	s.embedder, err = buildEmbedder(cfg, s.limiter)
	if err != nil {
		s.Close()
		return nil, err
	}

	if withIndex {
		s.retriever, err = buildRetriever(ctx, cfg, s.embedder, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// buildEmbedder layers rate limiting (remote providers only) under the cache
func buildEmbedder(cfg *model.Config, limiter *worker.Limiter) (embed.Embedder, error) {
	e, err := embed.New(cfg.Embedding, nil, 0)
	if err != nil {
		return nil, err
	}
	if !isLocalEmbedder(cfg.Embedding.Provider) {
		e = worker.NewRateLimitedEmbedder(e, limiter)
	}
	if cfg.Cache.Enabled {
		c := cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.DiskDir, cfg.Cache.DiskTTL)
		e = embed.NewCached(e, c, cfg.Cache.MemoryTTL)
	}
	return e, nil
}

func isLocalEmbedder(provider string) bool {
	p := strings.ToLower(provider)
	return p == "" || p == "hash"
}

// loadedCorpus is a chunk store plus any precomputed vectors for it
type loadedCorpus struct {
	store    *corpus.MemoryStore
	vectors  map[string][]float32
	embedder string // Name of the embedder that produced vectors, if known
}

// loadCorpus prefers a SQLite snapshot, then the chunk file
func loadCorpus(cfg *model.Config) (*loadedCorpus, error) {
	var (
		chunks []model.Chunk
		lc     loadedCorpus
	)

	switch {
	case cfg.Corpus.SQLitePath != "":
		snap, err := corpus.LoadSQLite(cfg.Corpus.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("%w: load snapshot: %w", retrieve.ErrIndexUnavailable, err)
		}
		chunks = snap.Chunks
		lc.vectors = snap.Vectors
		lc.embedder = snap.Embedder

	case cfg.Corpus.ChunksPath != "":
		var err error
		chunks, err = corpus.LoadChunks(cfg.Corpus.ChunksPath)
		if err != nil {
			return nil, err
		}
		if cfg.Corpus.CitationIndexPath != "" {
			index, err := corpus.LoadCitationIndex(cfg.Corpus.CitationIndexPath)
			if err != nil {
				return nil, err
			}
			chunks = corpus.ApplyProvenance(chunks, index)
		}

	default:
		return nil, errNoCorpus
	}

	if cfg.Embedding.EmbeddingsPath != "" {
		vectors, err := corpus.LoadEmbeddings(cfg.Embedding.EmbeddingsPath)
		if err != nil {
			return nil, err
		}
		lc.vectors = vectors
		lc.embedder = ""
	}

	store, err := corpus.NewMemoryStore(chunks)
	if err != nil {
		return nil, err
	}
	lc.store = store
	return &lc, nil
}

// buildRetriever loads the corpus and builds both indexes. Snapshot
// vectors from a different embedder are discarded and recomputed, since
// their similarities are not comparable.
func buildRetriever(ctx context.Context, cfg *model.Config, embedder embed.Embedder, logger *zap.Logger) (*retrieve.Retriever, error) {
	lc, err := loadCorpus(cfg)
	if err != nil {
		return nil, err
	}

	vectors := lc.vectors
	if vectors != nil && lc.embedder != "" && lc.embedder != embedder.Name() {
		logger.Warn("snapshot embedder differs, re-embedding corpus",
			zap.String("snapshot", lc.embedder),
			zap.String("configured", embedder.Name()))
		vectors = nil
	}

	options := []retrieve.Option{retrieve.WithLogger(logger)}
	if cfg.Retrieval.Rerank {
		options = append(options, retrieve.WithReranker(retrieve.TermCoverage{}))
	}

	r, err := retrieve.Build(ctx, lc.store, embedder,
		vectors,
		retrieve.IndexParams{K1: cfg.Retrieval.BM25K1, B: cfg.Retrieval.BM25B},
		retrieve.OptionsFromConfig(cfg.Retrieval),
		options...)
	if err != nil {
		return nil, err
	}
	logger.Info("index ready",
		zap.Int("chunks", lc.store.Len()),
		zap.Int("sources", len(corpus.Sources(lc.store))),
		zap.String("embedder", embedder.Name()))
	return r, nil
}

// buildGenerator selects the generation backend and throttles remote ones
func buildGenerator(cfg *model.Config, limiter *worker.Limiter) (llm.Generator, error) {
	g, err := llm.NewGenerator(llm.ConfigFromModel(cfg.LLM))
	if err != nil {
		return nil, err
	}
	if _, offline := g.(*llm.Extractive); offline {
		return g, nil
	}
	return worker.NewRateLimitedGenerator(g, limiter), nil
}

// controller assembles the pipeline over the session's retriever
func (s *session) controller() (*pipeline.Controller, error) {
	verifier, err := verify.New(s.cfg.Verification)
	if err != nil {
		return nil, err
	}
	generator, err := buildGenerator(s.cfg, s.limiter)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("generator selected", zap.String("generator", generator.Name()))

	return pipeline.NewFromConfig(pipeline.Engine{
		Retriever: s.retriever,
		Verifier:  verifier,
		Generator: generator,
	}, s.cfg, pipeline.WithLogger(s.logger))
}

// banner prints a section header to stderr
func banner(title string) {
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  %s\n", title)
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
}
