// Package pipeline drives one incident through planning, retrieval,
// generation and verification, and renders the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/disasterops/internal/cite"
	"github.com/ppiankov/disasterops/internal/corpus"
	"github.com/ppiankov/disasterops/internal/llm"
	"github.com/ppiankov/disasterops/internal/model"
	"github.com/ppiankov/disasterops/internal/plan"
	"github.com/ppiankov/disasterops/internal/retrieve"
	"github.com/ppiankov/disasterops/internal/verify"
)

var tracer = otel.Tracer("disasterops/pipeline")

// Retriever is the hybrid retrieval capability; *retrieve.Retriever implements it
type Retriever interface {
	Store() corpus.Store
	RetrieveWindow(ctx context.Context, q model.Query, k, n int) ([]model.ScoredResult, error)
}

// Engine is the read-only context shared by every run. It is built once at
// startup and never mutated, so concurrent runs may share it.
type Engine struct {
	Retriever Retriever
	Planner   *plan.Planner
	Mapper    *cite.Mapper
	Verifier  *verify.Verifier
	Generator llm.Generator
}

// Settings are the per-deployment knobs the controller reads
type Settings struct {
	TopK                 int
	CandidateWindow      int
	RetryCandidateWindow int
	CitationThreshold    float64
	GenerationTimeout    time.Duration
	RetrievalWorkers     int
}

// SettingsFromConfig extracts controller settings from cfg
func SettingsFromConfig(cfg *model.Config) Settings {
	return Settings{
		TopK:                 cfg.Retrieval.TopK,
		CandidateWindow:      cfg.Retrieval.CandidateWindow,
		RetryCandidateWindow: cfg.Retrieval.RetryCandidateWindow,
		CitationThreshold:    cfg.Retrieval.CitationThreshold,
		GenerationTimeout:    cfg.LLM.Timeout,
		RetrievalWorkers:     cfg.Concurrency.RetrievalWorkers,
	}
}

// Controller runs the pipeline state machine
type Controller struct {
	engine   Engine
	settings Settings
	policy   RetryPolicy
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the structured logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetryPolicy replaces the generation retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithClock overrides the output timestamp source
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New builds a controller. A nil Planner or Generator falls back to the
// default planner and the offline extractive generator.
func New(engine Engine, settings Settings, options ...Option) (*Controller, error) {
	if engine.Verifier == nil {
		return nil, errors.New("pipeline: verifier is required")
	}
	if engine.Planner == nil {
		engine.Planner = plan.New()
	}
	if engine.Generator == nil {
		engine.Generator = llm.NewExtractive()
	}
	if engine.Mapper == nil && engine.Retriever != nil {
		engine.Mapper = cite.NewMapper(engine.Retriever.Store())
	}
	if settings.TopK < 1 {
		settings.TopK = 5
	}
	if settings.RetrievalWorkers < 1 {
		settings.RetrievalWorkers = 1
	}

	c := &Controller{
		engine:   engine,
		settings: settings,
		policy:   RetryPolicy{MaxAttempts: 2, Backoff: ExponentialBackoff(time.Second, 8*time.Second)},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range options {
		o(c)
	}
	return c, nil
}

// NewFromConfig builds a controller whose settings and retry policy come from cfg
func NewFromConfig(engine Engine, cfg *model.Config, options ...Option) (*Controller, error) {
	options = append([]Option{WithRetryPolicy(PolicyFromConfig(cfg.LLM))}, options...)
	return New(engine, SettingsFromConfig(cfg), options...)
}

// Result is a finished run: the output plus the states it passed through
type Result struct {
	Output  *model.Output
	State   State
	History []State
}

// facetRun is the per-query working set; each one is owned by a single goroutine
type facetRun struct {
	query     model.Query
	citations []model.Citation
	chunks    []model.Chunk
	requeried bool
	claims    []model.Claim
}

// Run processes one incident. Cancellation is checked between stages. A
// failed run returns a *RunError naming the state it stopped in.
func (c *Controller) Run(ctx context.Context, inc model.Incident) (*Result, error) {
	runID := uuid.NewString()
	logger := c.logger.With(zap.String("run_id", runID))

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	m := newMachine()
	out := &model.Output{
		RunID:       runID,
		Incident:    inc.Name,
		GeneratedAt: c.now().UTC(),
		Facets:      []model.FacetResult{},
		Unknowns:    []model.Claim{},
	}

	fail := func(reason string, err error) (*Result, error) {
		state := m.current
		m.advance(StateFailed)
		runsTotal.WithLabelValues(string(StateFailed)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		logger.Error("pipeline failed",
			zap.String("state", string(state)),
			zap.String("reason", reason),
			zap.Error(err))
		return &Result{Output: out, State: StateFailed, History: m.states()}, &RunError{State: state, Reason: reason, Err: err}
	}

	queries := c.engine.Planner.Plan(inc)
	danger := c.screen(inc)
	out.Stats.Queries = len(queries)
	logger.Info("planned", zap.Int("queries", len(queries)), zap.Int("danger_facts", len(danger)))

	if err := ctx.Err(); err != nil {
		return fail("cancelled", err)
	}
	m.advance(StateRetrieving)
	if c.engine.Retriever == nil {
		return fail("index unavailable", retrieve.ErrIndexUnavailable)
	}

	runs, err := c.retrieveAll(ctx, logger, queries)
	if err != nil {
		if errors.Is(err, retrieve.ErrIndexUnavailable) {
			return fail("index unavailable", err)
		}
		return fail("retrieval failed", err)
	}
	for _, r := range runs {
		if len(r.citations) == 0 {
			out.Warnings = append(out.Warnings, fmt.Sprintf("no evidence retrieved for %s", r.query.Topic))
		}
	}

	if err := ctx.Err(); err != nil {
		return fail("cancelled", err)
	}
	m.advance(StateGenerating)

	for i := range runs {
		gen, attempts, err := c.generate(ctx, logger, inc, &runs[i])
		out.Stats.GenerationAttempts += attempts
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fail("cancelled", ctxErr)
			}
			return fail("generation unavailable", err)
		}
		if leak := gen.LeakErr(); leak != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %v", runs[i].query.Topic, leak))
			logger.Warn("citation leak stripped",
				zap.String("facet", string(runs[i].query.Topic)),
				zap.Strings("chunk_ids", gen.Leaked))
		}
		runs[i].claims = gen.Claims
	}
	runs = attachDanger(runs, danger)

	if err := ctx.Err(); err != nil {
		return fail("cancelled", err)
	}
	m.advance(StateVerifying)

	_, vspan := tracer.Start(ctx, "pipeline.verify")
	for _, r := range runs {
		fr := model.FacetResult{
			Facet:     r.query.Topic,
			Query:     r.query.Text,
			Requeried: r.requeried,
			Citations: r.citations,
			Results:   make([]model.VerificationResult, 0, len(r.claims)),
		}
		if fr.Citations == nil {
			fr.Citations = []model.Citation{}
		}
		for _, claim := range r.claims {
			res := c.engine.Verifier.Verify(claim, evidenceFor(claim, r.citations))
			verificationResults.WithLabelValues(string(res.Status), string(res.Claim.Category)).Inc()
			out.Stats.Claims++

			switch res.Status {
			case model.StatusGrounded:
				out.Stats.Grounded++
			case model.StatusUngrounded:
				out.Stats.Ungrounded++
				out.Unknowns = append(out.Unknowns, res.Claim)
			case model.StatusEscalated:
				out.Stats.Escalated++
				if m.advance(StateEscalated) {
					logger.Warn("escalated",
						zap.String("facet", string(r.query.Topic)),
						zap.String("reason", res.Reason))
				}
			}
			fr.Results = append(fr.Results, res)
		}
		out.Stats.Citations += len(r.citations)
		out.Facets = append(out.Facets, fr)
	}
	vspan.End()

	if out.Stats.Escalated > 0 {
		out.HasEscalation = true
		out.EscalationNotice = model.EscalationNotice
	} else {
		m.advance(StateDone)
	}

	runsTotal.WithLabelValues(string(m.current)).Inc()
	span.SetAttributes(
		attribute.String("state", string(m.current)),
		attribute.Int("claims", out.Stats.Claims),
		attribute.Int("escalated", out.Stats.Escalated))
	logger.Info("run complete",
		zap.String("state", string(m.current)),
		zap.Int("claims", out.Stats.Claims),
		zap.Int("grounded", out.Stats.Grounded),
		zap.Int("ungrounded", out.Stats.Ungrounded),
		zap.Int("escalated", out.Stats.Escalated))

	return &Result{Output: out, State: m.current, History: m.states()}, nil
}

// retrieveAll runs every query concurrently; queries share only read-only indexes
func (c *Controller) retrieveAll(ctx context.Context, logger *zap.Logger, queries []model.Query) ([]facetRun, error) {
	ctx, span := tracer.Start(ctx, "pipeline.retrieve", trace.WithAttributes(attribute.Int("queries", len(queries))))
	defer span.End()

	runs := make([]facetRun, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.settings.RetrievalWorkers)
	for i, q := range queries {
		g.Go(func() error {
			r, err := c.retrieveOne(gctx, logger, q)
			if err != nil {
				return err
			}
			runs[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, err
	}
	return runs, nil
}

func (c *Controller) retrieveOne(ctx context.Context, logger *zap.Logger, q model.Query) (facetRun, error) {
	r := facetRun{query: q}

	cits, err := c.lookup(ctx, q, c.settings.CandidateWindow)
	if err != nil {
		return r, err
	}
	if len(cits) == 0 && c.settings.RetryCandidateWindow > c.settings.CandidateWindow {
		r.requeried = true
		requeriesTotal.WithLabelValues(string(q.Topic)).Inc()
		logger.Info("no evidence, re-querying with wider window",
			zap.String("facet", string(q.Topic)),
			zap.Int("window", c.settings.RetryCandidateWindow))
		if cits, err = c.lookup(ctx, q, c.settings.RetryCandidateWindow); err != nil {
			return r, err
		}
	}
	r.citations = cits

	store := c.engine.Retriever.Store()
	r.chunks = make([]model.Chunk, 0, len(cits))
	for _, cit := range cits {
		chunk, err := store.Get(cit.ChunkID)
		if err != nil {
			return r, fmt.Errorf("%w: %v", retrieve.ErrIndexUnavailable, err)
		}
		r.chunks = append(r.chunks, chunk)
	}
	return r, nil
}

func (c *Controller) lookup(ctx context.Context, q model.Query, window int) ([]model.Citation, error) {
	results, err := c.engine.Retriever.RetrieveWindow(ctx, q, c.settings.TopK, window)
	if err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", q.Topic, err)
	}
	return c.engine.Mapper.Map(results, c.settings.CitationThreshold), nil
}

// generate calls the generator under the retry policy, each attempt bounded
// by the generation timeout
func (c *Controller) generate(ctx context.Context, logger *zap.Logger, inc model.Incident, r *facetRun) (*llm.Generation, int, error) {
	facet := r.query.Topic
	ctx, span := tracer.Start(ctx, "pipeline.generate", trace.WithAttributes(attribute.String("facet", string(facet))))
	defer span.End()

	req := llm.GenerateRequest{
		Facet:     facet,
		Query:     r.query.Text,
		Incident:  inc,
		Citations: r.citations,
		Chunks:    r.chunks,
	}

	var gen *llm.Generation
	attempts, err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := c.attemptContext(ctx)
		defer cancel()

		g, err := generateOnce(attemptCtx, c.engine.Generator, req)
		outcome := "ok"
		switch {
		case err == nil:
			if g == nil {
				g = &llm.Generation{}
			}
			gen = g
		case ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
			outcome = "timeout"
			err = fmt.Errorf("%w after %s: %w", ErrGenerationTimeout, c.settings.GenerationTimeout, err)
		case llm.IsPermanent(err):
			outcome = "permanent"
		default:
			outcome = "error"
		}
		generationAttempts.WithLabelValues(outcome).Inc()
		if err != nil {
			logger.Warn("generation attempt failed",
				zap.String("facet", string(facet)),
				zap.Int("attempt", attempt),
				zap.String("outcome", outcome),
				zap.Error(err))
		}
		return err
	})
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempts, ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation unavailable")
		return nil, attempts, fmt.Errorf("%w: %s after %d attempt(s): %w", ErrGenerationUnavailable, facet, attempts, err)
	}
	return gen, attempts, nil
}

// generateOnce returns when the generator does or when ctx is done,
// whichever is first. A result that arrives after ctx is done is dropped.
func generateOnce(ctx context.Context, g llm.Generator, req llm.GenerateRequest) (*llm.Generation, error) {
	type result struct {
		gen *llm.Generation
		err error
	}
	done := make(chan result, 1)
	go func() {
		gen, err := g.Generate(ctx, req)
		done <- result{gen: gen, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return r.gen, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Controller) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.settings.GenerationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.settings.GenerationTimeout)
}

// dangerFact is an incident value that matched the imminent-danger lexicon
type dangerFact struct {
	facet model.Facet
	claim model.Claim
}

// screen turns incident facts that match the danger lexicon into claims so
// they escalate even when the generator never mentions them
func (c *Controller) screen(inc model.Incident) []dangerFact {
	fields := []struct {
		facet  model.Facet
		values []string
	}{
		{model.FacetHazards, inc.Hazards},
		{model.FacetInjuries, inc.Injuries},
		{model.FacetInfrastructure, inc.Infrastructure},
		{model.FacetWeather, []string{inc.Weather}},
		{model.FacetResources, inc.Responders},
		{model.FacetResources, inc.Constraints},
		{model.FacetEvacuation, []string{inc.Evacuation}},
	}

	var facts []dangerFact
	for _, f := range fields {
		for _, v := range model.Clean(f.values) {
			if _, ok := c.engine.Verifier.Danger().Match(v); ok {
				facts = append(facts, dangerFact{
					facet: f.facet,
					claim: model.Claim{
						Text:     "Reported condition: " + v,
						Category: model.CategoryOtherHighRisk,
					},
				})
			}
		}
	}
	return facts
}

// attachDanger appends each danger claim to its facet, or to the first facet
// when that facet was not planned
func attachDanger(runs []facetRun, facts []dangerFact) []facetRun {
	for _, f := range facts {
		idx := -1
		for i := range runs {
			if runs[i].query.Topic == f.facet {
				idx = i
				break
			}
		}
		if idx < 0 {
			if len(runs) == 0 {
				runs = append(runs, facetRun{query: model.Query{Topic: f.facet}})
			}
			idx = 0
		}
		runs[idx].claims = append(runs[idx].claims, f.claim)
	}
	return runs
}

// evidenceFor narrows the facet bundle to the chunks a claim cites. A claim
// that cites nothing is weighed against the whole bundle; a claim whose
// citations were all stripped (non-nil but empty) gets no evidence.
func evidenceFor(claim model.Claim, bundle []model.Citation) []model.Citation {
	if claim.Citations == nil {
		return bundle
	}
	cited := make(map[string]bool, len(claim.Citations))
	for _, id := range claim.Citations {
		cited[id] = true
	}
	evidence := make([]model.Citation, 0, len(claim.Citations))
	for _, c := range bundle {
		if cited[c.ChunkID] {
			evidence = append(evidence, c)
		}
	}
	return evidence
}
