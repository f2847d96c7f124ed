package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by Config.Validate
var ErrInvalidConfig = errors.New("invalid config")

// Fusion strategies
const (
	FusionRRF      = "rrf"
	FusionWeighted = "weighted"
)

// Config holds every deployment-overridable option
type Config struct {
	Corpus       CorpusConfig       `yaml:"corpus" mapstructure:"corpus"`
	Retrieval    RetrievalConfig    `yaml:"retrieval" mapstructure:"retrieval"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding" mapstructure:"embedding"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitConfig    `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
}

// CorpusConfig locates the chunk store
type CorpusConfig struct {
	ChunksPath        string `yaml:"chunks_path" mapstructure:"chunks_path"`                 // JSON array or JSONL of chunks
	CitationIndexPath string `yaml:"citation_index_path" mapstructure:"citation_index_path"` // Optional provenance overlay
	SQLitePath        string `yaml:"sqlite_path" mapstructure:"sqlite_path"`                 // Snapshot written by `index build`
}

// RetrievalConfig controls the hybrid retriever and citation mapper
type RetrievalConfig struct {
	TopK                 int     `yaml:"top_k" mapstructure:"top_k"`
	CandidateWindow      int     `yaml:"candidate_window" mapstructure:"candidate_window"`             // N per index
	RetryCandidateWindow int     `yaml:"retry_candidate_window" mapstructure:"retry_candidate_window"` // N for the zero-evidence re-query
	Fusion               string  `yaml:"fusion" mapstructure:"fusion"`                                 // rrf or weighted
	Alpha                float64 `yaml:"alpha" mapstructure:"alpha"`                                   // Dense weight
	RRFConstant          float64 `yaml:"rrf_constant" mapstructure:"rrf_constant"`
	Rerank               bool    `yaml:"rerank" mapstructure:"rerank"`
	CitationThreshold    float64 `yaml:"citation_threshold" mapstructure:"citation_threshold"`
	MinDenseSimilarity   float64 `yaml:"min_dense_similarity" mapstructure:"min_dense_similarity"` // Cosine floor for dense candidates
	BM25K1               float64 `yaml:"bm25_k1" mapstructure:"bm25_k1"`
	BM25B                float64 `yaml:"bm25_b" mapstructure:"bm25_b"`
}

// VerificationConfig controls grounding and tiering
type VerificationConfig struct {
	GroundingThreshold    float64  `yaml:"grounding_threshold" mapstructure:"grounding_threshold"`
	MultiSourceMin        int      `yaml:"multi_source_min" mapstructure:"multi_source_min"`
	CorroborationMinScore float64  `yaml:"corroboration_min_score" mapstructure:"corroboration_min_score"` // Optional per-source floor for the multi-source rule
	HighTierMinSources    int      `yaml:"high_tier_min_sources" mapstructure:"high_tier_min_sources"`
	HighTierMinScore      float64  `yaml:"high_tier_min_score" mapstructure:"high_tier_min_score"`
	MediumSingleMinScore  float64  `yaml:"medium_single_min_score" mapstructure:"medium_single_min_score"`
	MediumPairMinScore    float64  `yaml:"medium_pair_min_score" mapstructure:"medium_pair_min_score"`
	DangerPatterns        []string `yaml:"danger_patterns" mapstructure:"danger_patterns"` // Extra regexps on top of the built-in lexicon
}

// LLMConfig holds generation provider settings
type LLMConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama, "" (extractive)
	Model       string        `yaml:"model" mapstructure:"model"`
	APIKey      string        `yaml:"-" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base" mapstructure:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max" mapstructure:"backoff_max"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	HTTPProxy   string        `yaml:"http_proxy" mapstructure:"http_proxy"` // Ollama only; empty uses the environment
	HTTPSProxy  string        `yaml:"https_proxy" mapstructure:"https_proxy"`
	NoProxy     string        `yaml:"no_proxy" mapstructure:"no_proxy"`
}

// EmbeddingConfig holds the embed(text) capability settings
type EmbeddingConfig struct {
	Provider       string `yaml:"provider" mapstructure:"provider"` // hash, openai, ollama
	Model          string `yaml:"model" mapstructure:"model"`
	APIKey         string `yaml:"-" mapstructure:"api_key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	Dimension      int    `yaml:"dimension" mapstructure:"dimension"`
	EmbeddingsPath string `yaml:"embeddings_path" mapstructure:"embeddings_path"` // Precomputed chunk vectors (JSONL)
}

// CacheConfig controls the query embedding cache
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskDir   string        `yaml:"disk_dir" mapstructure:"disk_dir"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// ConcurrencyConfig bounds parallel work
type ConcurrencyConfig struct {
	RetrievalWorkers int `yaml:"retrieval_workers" mapstructure:"retrieval_workers"`
	BatchWorkers     int `yaml:"batch_workers" mapstructure:"batch_workers"`
}

// RateLimitConfig throttles calls to external providers
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// LoggingConfig controls the structured logger
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"` // Rotated JSON log; empty disables
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// DefaultConfig returns the stated defaults
func DefaultConfig() *Config {
	return &Config{
		Retrieval: RetrievalConfig{
			TopK:                 5,
			CandidateWindow:      20,
			RetryCandidateWindow: 50,
			Fusion:               FusionRRF,
			Alpha:                0.5,
			RRFConstant:          60,
			Rerank:               false,
			CitationThreshold:    0.4,
			MinDenseSimilarity:   0.2,
			BM25K1:               1.5,
			BM25B:                0.75,
		},
		Verification: VerificationConfig{
			GroundingThreshold:    0.6,
			MultiSourceMin:        2,
			CorroborationMinScore: 0,
			HighTierMinSources:    2,
			HighTierMinScore:      0.8,
			MediumSingleMinScore:  0.6,
			MediumPairMinScore:    0.5,
		},
		LLM: LLMConfig{
			Provider:    "",
			Model:       "gpt-4o-mini",
			Timeout:     30 * time.Second,
			MaxAttempts: 2,
			BackoffBase: time.Second,
			BackoffMax:  8 * time.Second,
			MaxTokens:   1200,
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Dimension: 256,
		},
		Cache: CacheConfig{
			Enabled:   true,
			MemoryTTL: time.Hour,
			DiskDir:   "",
			DiskTTL:   7 * 24 * time.Hour,
		},
		Concurrency: ConcurrencyConfig{
			RetrievalWorkers: 6,
			BatchWorkers:     4,
		},
		RateLimiting: RateLimitConfig{
			RequestsPerSecond: 2,
			BurstSize:         4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate rejects option combinations the engine cannot honour
func (c *Config) Validate() error {
	r := c.Retrieval
	v := c.Verification

	switch {
	case r.TopK < 1:
		return fmt.Errorf("%w: retrieval.top_k must be >= 1", ErrInvalidConfig)
	case r.CandidateWindow < r.TopK:
		return fmt.Errorf("%w: retrieval.candidate_window (%d) must be >= top_k (%d)", ErrInvalidConfig, r.CandidateWindow, r.TopK)
	case r.RetryCandidateWindow < r.CandidateWindow:
		return fmt.Errorf("%w: retrieval.retry_candidate_window must be >= candidate_window", ErrInvalidConfig)
	case r.Fusion != FusionRRF && r.Fusion != FusionWeighted:
		return fmt.Errorf("%w: retrieval.fusion must be %q or %q", ErrInvalidConfig, FusionRRF, FusionWeighted)
	case r.Alpha < 0 || r.Alpha > 1:
		return fmt.Errorf("%w: retrieval.alpha must be within [0,1]", ErrInvalidConfig)
	case r.RRFConstant <= 0:
		return fmt.Errorf("%w: retrieval.rrf_constant must be > 0", ErrInvalidConfig)
	case r.MinDenseSimilarity < 0 || r.MinDenseSimilarity >= 1:
		return fmt.Errorf("%w: retrieval.min_dense_similarity must be within [0,1)", ErrInvalidConfig)
	}

	for name, val := range map[string]float64{
		"retrieval.citation_threshold":         r.CitationThreshold,
		"verification.grounding_threshold":     v.GroundingThreshold,
		"verification.corroboration_min_score": v.CorroborationMinScore,
		"verification.high_tier_min_score":     v.HighTierMinScore,
		"verification.medium_single_min_score": v.MediumSingleMinScore,
		"verification.medium_pair_min_score":   v.MediumPairMinScore,
	} {
		if val < 0 || val > 1 {
			return fmt.Errorf("%w: %s must be within [0,1]", ErrInvalidConfig, name)
		}
	}

	if v.MultiSourceMin < 1 {
		return fmt.Errorf("%w: verification.multi_source_min must be >= 1", ErrInvalidConfig)
	}
	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("%w: llm.max_attempts must be >= 1", ErrInvalidConfig)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("%w: llm.timeout must be > 0", ErrInvalidConfig)
	}
	return nil
}
