package eval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/disasterops/internal/cite"
	"github.com/ppiankov/disasterops/internal/model"
	"github.com/ppiankov/disasterops/internal/pipeline"
	"github.com/ppiankov/disasterops/internal/plan"
)

// Runner runs a full pipeline pass; when set, the evaluator also reports the
// share of generated claims that were grounded.
type Runner interface {
	Run(ctx context.Context, inc model.Incident) (*pipeline.Result, error)
}

// Settings control how scenarios are retrieved
type Settings struct {
	K                 int // Cut-off for Recall@K
	TopK              int // Results kept per query
	CandidateWindow   int
	CitationThreshold float64
	Workers           int
}

// SettingsFromConfig derives evaluation settings from cfg
func SettingsFromConfig(cfg *model.Config) Settings {
	return Settings{
		K:                 5,
		TopK:              cfg.Retrieval.TopK,
		CandidateWindow:   cfg.Retrieval.CandidateWindow,
		CitationThreshold: cfg.Retrieval.CitationThreshold,
		Workers:           cfg.Concurrency.BatchWorkers,
	}
}

// Evaluator scores the retrieval stack against scenarios
type Evaluator struct {
	retriever pipeline.Retriever
	planner   *plan.Planner
	mapper    *cite.Mapper
	runner    Runner
	settings  Settings
	logger    *zap.Logger
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithRunner enables grounding-rate measurement
func WithRunner(r Runner) Option {
	return func(e *Evaluator) { e.runner = r }
}

// WithLogger sets the structured logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an evaluator over retriever
func New(retriever pipeline.Retriever, settings Settings, options ...Option) *Evaluator {
	if settings.K < 1 {
		settings.K = 5
	}
	if settings.TopK < 1 {
		settings.TopK = settings.K
	}
	if settings.CandidateWindow < settings.TopK {
		settings.CandidateWindow = settings.TopK
	}
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	e := &Evaluator{
		retriever: retriever,
		planner:   plan.New(),
		mapper:    cite.NewMapper(retriever.Store()),
		settings:  settings,
		logger:    zap.NewNop(),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// ScenarioResult is the measured outcome of one scenario
type ScenarioResult struct {
	Name            string   `json:"name"`
	Labelled        bool     `json:"labelled"`
	Queries         int      `json:"queries"`
	Retrieved       []string `json:"retrieved"`
	UniqueCitations int      `json:"unique_citations"`
	ExpectedMin     int      `json:"expected_citations_min"`
	Recall          float64  `json:"recall_at_k"`
	MRR             float64  `json:"mrr"`
	Coverage        float64  `json:"citation_coverage"`
	MeetsThreshold  bool     `json:"meets_threshold"`
	GroundingRate   *float64 `json:"grounding_rate,omitempty"`
	Escalated       bool     `json:"escalated,omitempty"`
	Duration        float64  `json:"duration_seconds"`
	Error           string   `json:"error,omitempty"`
}

// Summary aggregates scenario results
type Summary struct {
	Scenarios     int     `json:"scenarios"`
	Failed        int     `json:"failed"`
	Labelled      int     `json:"labelled"`
	K             int     `json:"k"`
	MeanRecall    float64 `json:"mean_recall_at_k"`
	MedianRecall  float64 `json:"median_recall_at_k"`
	MeanMRR       float64 `json:"mean_mrr"`
	MedianMRR     float64 `json:"median_mrr"`
	MeanCoverage  float64 `json:"mean_citation_coverage"`
	MeanGrounding float64 `json:"mean_grounding_rate,omitempty"`
}

// Report is the full evaluation output
type Report struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Summary     Summary          `json:"summary"`
	Results     []ScenarioResult `json:"results"`
}

// Evaluate runs every scenario. A failing scenario is recorded in its result
// and does not abort the others; only context cancellation does.
func (e *Evaluator) Evaluate(ctx context.Context, scenarios []Scenario) (*Report, error) {
	results := make([]ScenarioResult, len(scenarios))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.settings.Workers)
	for i, s := range scenarios {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.evaluate(gctx, s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Report{
		GeneratedAt: time.Now().UTC(),
		Summary:     summarize(results, e.settings.K),
		Results:     results,
	}, nil
}

func (e *Evaluator) evaluate(ctx context.Context, s Scenario) ScenarioResult {
	start := time.Now()
	res := ScenarioResult{
		Name:        s.Name,
		Labelled:    s.Labelled(),
		ExpectedMin: s.ExpectedCitationsMin,
	}
	defer func() { res.Duration = time.Since(start).Seconds() }()

	queries := e.planner.Plan(s.Incident)
	res.Queries = len(queries)

	merged, err := e.retrieve(ctx, queries)
	if err != nil {
		res.Error = err.Error()
		e.logger.Warn("scenario retrieval failed", zap.String("scenario", s.Name), zap.Error(err))
		return res
	}

	res.Retrieved = make([]string, len(merged))
	for i, r := range merged {
		res.Retrieved[i] = r.ChunkID
	}
	citations := e.mapper.Map(merged, e.settings.CitationThreshold)
	res.UniqueCitations = len(citations)
	res.Coverage = Coverage(len(citations), s.ExpectedCitationsMin)
	res.MeetsThreshold = len(citations) >= s.ExpectedCitationsMin

	relevant := s.Relevant()
	res.Recall = RecallAtK(res.Retrieved, relevant, e.settings.K)
	res.MRR = ReciprocalRank(res.Retrieved, relevant)

	if e.runner != nil {
		run, err := e.runner.Run(ctx, s.Incident)
		if err != nil {
			res.Error = err.Error()
		}
		if run != nil && run.Output != nil {
			stats := run.Output.Stats
			if stats.Claims > 0 {
				rate := float64(stats.Grounded) / float64(stats.Claims)
				res.GroundingRate = &rate
			}
			res.Escalated = run.Output.HasEscalation
		}
	}
	return res
}

// retrieve runs every query and merges hits by chunk id keeping the best
// score, ordered by descending score then chunk id.
func (e *Evaluator) retrieve(ctx context.Context, queries []model.Query) ([]model.ScoredResult, error) {
	best := make(map[string]model.ScoredResult)
	for _, q := range queries {
		hits, err := e.retriever.RetrieveWindow(ctx, q, e.settings.TopK, e.settings.CandidateWindow)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q.Topic, err)
		}
		for _, h := range hits {
			if cur, ok := best[h.ChunkID]; !ok || h.Score() > cur.Score() {
				best[h.ChunkID] = h
			}
		}
	}

	merged := make([]model.ScoredResult, 0, len(best))
	for _, r := range best {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score() != merged[j].Score() {
			return merged[i].Score() > merged[j].Score()
		}
		return merged[i].ChunkID < merged[j].ChunkID
	})
	for i := range merged {
		merged[i].Rank = i + 1
	}
	return merged, nil
}

func summarize(results []ScenarioResult, k int) Summary {
	sum := Summary{Scenarios: len(results), K: k}
	var recall, mrr, coverage, grounding []float64
	for _, r := range results {
		if r.Error != "" && r.Retrieved == nil {
			sum.Failed++
			continue
		}
		coverage = append(coverage, r.Coverage)
		if r.Labelled {
			sum.Labelled++
			recall = append(recall, r.Recall)
			mrr = append(mrr, r.MRR)
		}
		if r.GroundingRate != nil {
			grounding = append(grounding, *r.GroundingRate)
		}
	}
	sum.MeanRecall = Mean(recall)
	sum.MedianRecall = Median(recall)
	sum.MeanMRR = Mean(mrr)
	sum.MedianMRR = Median(mrr)
	sum.MeanCoverage = Mean(coverage)
	sum.MeanGrounding = Mean(grounding)
	return sum
}
