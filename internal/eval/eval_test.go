package eval

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/disasterops/internal/corpus"
	"github.com/ppiankov/disasterops/internal/model"
	"github.com/ppiankov/disasterops/internal/pipeline"
)

var chunks = []model.Chunk{
	{ID: "flood-1", SourceDoc: "fema-flood.pdf", Section: "Evacuation", Text: "Move to higher ground during flooding."},
	{ID: "flood-2", SourceDoc: "redcross-flood.pdf", Section: "Safety", Text: "Never drive through flooded roads."},
	{ID: "med-1", SourceDoc: "who-first-aid.pdf", Section: "Bleeding", Text: "Apply direct pressure to a bleeding wound."},
}

// stubRetriever returns fixed hits per facet
type stubRetriever struct {
	store corpus.Store
	hits  map[model.Facet][]model.ScoredResult
	err   error
}

func (s *stubRetriever) Store() corpus.Store { return s.store }

func (s *stubRetriever) RetrieveWindow(_ context.Context, q model.Query, k, n int) ([]model.ScoredResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.hits[q.Topic], nil
}

func newStub(t *testing.T, hits map[model.Facet][]model.ScoredResult) *stubRetriever {
	t.Helper()
	store, err := corpus.NewMemoryStore(chunks)
	require.NoError(t, err)
	return &stubRetriever{store: store, hits: hits}
}

type stubRunner struct {
	stats model.RunStats
}

func (r stubRunner) Run(context.Context, model.Incident) (*pipeline.Result, error) {
	return &pipeline.Result{Output: &model.Output{Stats: r.stats}}, nil
}

func TestRecallAtK(t *testing.T) {
	relevant := map[string]bool{"a": true, "b": true}

	assert.InDelta(t, 0.5, RecallAtK([]string{"a", "x", "y"}, relevant, 5), 1e-9)
	assert.InDelta(t, 1.0, RecallAtK([]string{"b", "a"}, relevant, 5), 1e-9)
	assert.InDelta(t, 0.0, RecallAtK([]string{"x", "y", "a"}, relevant, 2), 1e-9)
	assert.InDelta(t, 0.5, RecallAtK([]string{"a", "a"}, relevant, 5), 1e-9, "duplicates count once")
	assert.InDelta(t, 1.0, RecallAtK(nil, nil, 5), 1e-9)
	assert.InDelta(t, 0.0, RecallAtK([]string{"a"}, nil, 5), 1e-9)
}

func TestReciprocalRank(t *testing.T) {
	relevant := map[string]bool{"c": true}

	assert.InDelta(t, 1.0/3, ReciprocalRank([]string{"a", "b", "c"}, relevant), 1e-9)
	assert.InDelta(t, 1.0, ReciprocalRank([]string{"c"}, relevant), 1e-9)
	assert.Zero(t, ReciprocalRank([]string{"a"}, relevant))
	assert.InDelta(t, 1.0, ReciprocalRank([]string{"a"}, nil), 1e-9)
}

func TestCoverage(t *testing.T) {
	assert.InDelta(t, 0.4, Coverage(2, 5), 1e-9)
	assert.InDelta(t, 1.0, Coverage(9, 5), 1e-9)
	assert.InDelta(t, 1.0, Coverage(0, 0), 1e-9)
}

func TestMeanMedian(t *testing.T) {
	assert.Zero(t, Mean(nil))
	assert.Zero(t, Median(nil))
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-9)
	assert.InDelta(t, 2.0, Median([]float64{3, 1, 2}), 1e-9)
	assert.InDelta(t, 2.5, Median([]float64{4, 1, 3, 2}), 1e-9)
}

func TestLoadScenarios_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	body := `scenarios:
  - name: Urban flooding
    incident:
      hazards: [flood]
    relevant_chunks: [flood-1, flood-2]
    expected_citations_min: 2
  - incident:
      injuries: [bleeding]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	scenarios, err := LoadScenarios(path)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)

	assert.Equal(t, "Urban flooding", scenarios[0].Name)
	assert.Equal(t, []string{"flood"}, scenarios[0].Incident.Hazards)
	assert.True(t, scenarios[0].Labelled())
	assert.Equal(t, 2, scenarios[0].ExpectedCitationsMin)

	assert.Equal(t, "scenario-2", scenarios[1].Name)
	assert.False(t, scenarios[1].Labelled())
	assert.Equal(t, DefaultExpectedCitations, scenarios[1].ExpectedCitationsMin)
}

func TestLoadScenarios_JSONList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.json")
	body := `[{"name":"spill","incident":{"hazards":["chemical spill"]},"relevant_chunks":["x"]}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	scenarios, err := LoadScenarios(path)
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "spill", scenarios[0].Name)
	assert.Equal(t, map[string]bool{"x": true}, scenarios[0].Relevant())
}

func TestLoadScenarios_Missing(t *testing.T) {
	_, err := LoadScenarios(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEvaluate_MergesQueriesAndScores(t *testing.T) {
	r := newStub(t, map[model.Facet][]model.ScoredResult{
		model.FacetHazards: {
			{ChunkID: "flood-2", FusedScore: 0.9},
			{ChunkID: "flood-1", FusedScore: 0.4},
		},
		model.FacetInjuries: {
			{ChunkID: "med-1", FusedScore: 0.7},
			{ChunkID: "flood-1", FusedScore: 0.8},
		},
	})
	ev := New(r, Settings{K: 2, TopK: 5, CitationThreshold: 0.3})

	report, err := ev.Evaluate(context.Background(), []Scenario{{
		Name:                 "flood with injuries",
		Incident:             model.Incident{Hazards: []string{"flood"}, Injuries: []string{"bleeding"}},
		RelevantChunks:       []string{"flood-1", "med-1"},
		ExpectedCitationsMin: 4,
	}})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	res := report.Results[0]
	assert.Equal(t, 2, res.Queries)
	assert.Equal(t, []string{"flood-2", "flood-1", "med-1"}, res.Retrieved, "best score per chunk wins")
	assert.InDelta(t, 0.5, res.Recall, 1e-9)
	assert.InDelta(t, 0.5, res.MRR, 1e-9)
	assert.Equal(t, 3, res.UniqueCitations)
	assert.InDelta(t, 0.75, res.Coverage, 1e-9)
	assert.False(t, res.MeetsThreshold)
	assert.Nil(t, res.GroundingRate)

	assert.Equal(t, 1, report.Summary.Labelled)
	assert.InDelta(t, 0.5, report.Summary.MeanRecall, 1e-9)
}

func TestEvaluate_UnlabelledExcludedFromRecall(t *testing.T) {
	r := newStub(t, map[model.Facet][]model.ScoredResult{
		model.FacetHazards: {{ChunkID: "flood-1", FusedScore: 0.9}},
	})
	ev := New(r, Settings{K: 5})

	report, err := ev.Evaluate(context.Background(), []Scenario{
		{Name: "labelled", Incident: model.Incident{Hazards: []string{"flood"}}, RelevantChunks: []string{"flood-1"}, ExpectedCitationsMin: 1},
		{Name: "unlabelled", Incident: model.Incident{Hazards: []string{"flood"}}, ExpectedCitationsMin: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Summary.Scenarios)
	assert.Equal(t, 1, report.Summary.Labelled)
	assert.InDelta(t, 1.0, report.Summary.MeanRecall, 1e-9)
	assert.InDelta(t, 1.0, report.Summary.MeanCoverage, 1e-9)
}

func TestEvaluate_RetrievalErrorRecorded(t *testing.T) {
	r := newStub(t, nil)
	r.err = errors.New("index offline")
	ev := New(r, Settings{})

	report, err := ev.Evaluate(context.Background(), []Scenario{
		{Name: "broken", Incident: model.Incident{Hazards: []string{"flood"}}},
	})
	require.NoError(t, err)
	assert.Contains(t, report.Results[0].Error, "index offline")
	assert.Equal(t, 1, report.Summary.Failed)
}

func TestEvaluate_GroundingRateFromRunner(t *testing.T) {
	r := newStub(t, map[model.Facet][]model.ScoredResult{
		model.FacetHazards: {{ChunkID: "flood-1", FusedScore: 0.9}},
	})
	ev := New(r, Settings{}, WithRunner(stubRunner{stats: model.RunStats{Claims: 4, Grounded: 3}}))

	report, err := ev.Evaluate(context.Background(), []Scenario{
		{Name: "flood", Incident: model.Incident{Hazards: []string{"flood"}}},
	})
	require.NoError(t, err)
	require.NotNil(t, report.Results[0].GroundingRate)
	assert.InDelta(t, 0.75, *report.Results[0].GroundingRate, 1e-9)
	assert.InDelta(t, 0.75, report.Summary.MeanGrounding, 1e-9)
}

func TestEvaluate_Cancelled(t *testing.T) {
	ev := New(newStub(t, nil), Settings{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ev.Evaluate(ctx, []Scenario{{Name: "x"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReport_Writers(t *testing.T) {
	report := &Report{
		Summary: Summary{Scenarios: 1, Labelled: 0, K: 5, MeanCoverage: 0.4},
		Results: []ScenarioResult{{Name: "flood", Coverage: 0.4, UniqueCitations: 2, ExpectedMin: 5}},
	}

	var md bytes.Buffer
	require.NoError(t, report.WriteMarkdown(&md))
	assert.Contains(t, md.String(), "| flood | n/a | n/a | 0.400 | 2/5 |")
	assert.Contains(t, md.String(), "Mean Recall@5")

	var js bytes.Buffer
	require.NoError(t, report.WriteJSON(&js))
	assert.Contains(t, js.String(), `"mean_citation_coverage": 0.4`)
}
