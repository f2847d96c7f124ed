package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/disasterops/internal/model"
)

type stubProvider struct {
	text string
	err  error
	last CompletionRequest
}

func (s *stubProvider) Name() string                         { return "stub" }
func (s *stubProvider) IsAvailable(ctx context.Context) bool { return true }
func (s *stubProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &CompletionResponse{Text: s.text, Model: "stub-1", TokensUsed: 7}, nil
}

func floodBundle() GenerateRequest {
	return GenerateRequest{
		Facet: model.FacetEvacuation,
		Query: "evacuation procedures safety protocols",
		Incident: model.Incident{
			Hazards: []string{"flash flood"},
		},
		Citations: []model.Citation{
			{ChunkID: "fema-1", SourceDoc: "fema.pdf", RelevanceScore: 0.9},
			{ChunkID: "redcross-4", SourceDoc: "redcross.pdf", RelevanceScore: 0.7},
		},
		Chunks: []model.Chunk{
			{ID: "fema-1", SourceDoc: "fema.pdf", Text: "Move to higher ground immediately during a flash flood. Do not wait."},
			{ID: "redcross-4", SourceDoc: "redcross.pdf", Text: "During a flash flood move to higher ground and avoid walking through water."},
		},
	}
}

func TestParseClaims_Wrapper(t *testing.T) {
	claims, err := ParseClaims(`{"claims": [{"text": "Move upslope.", "category": "evacuation", "citations": ["c1", "c1", "[c2]"]}]}`, model.FacetHazards)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, model.CategoryEvacuation, claims[0].Category)
	assert.Equal(t, []string{"c1", "c2"}, claims[0].Citations)
}

func TestParseClaims_CodeFenceAndTrailingComma(t *testing.T) {
	text := "Here you go:\n```json\n[{\"claim\": \"Apply pressure.\", \"citations\": [\"m1\"],},]\n```"
	claims, err := ParseClaims(text, model.FacetInjuries)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "Apply pressure.", claims[0].Text)
	assert.Equal(t, model.CategoryMedical, claims[0].Category, "facet default applies when category is omitted")
}

func TestParseClaims_UnknownCategoryIsHighRisk(t *testing.T) {
	claims, err := ParseClaims(`[{"text": "Cut the gas main.", "category": "utilities"}]`, model.FacetHazards)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryOtherHighRisk, claims[0].Category)
}

func TestParseClaims_SkipsEmptyText(t *testing.T) {
	claims, err := ParseClaims(`{"claims": [{"text": "  "}, {"text": "Stay indoors."}]}`, model.FacetWeather)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "Stay indoors.", claims[0].Text)
}

func TestParseClaims_Malformed(t *testing.T) {
	for _, text := range []string{"", "no json here", `{"claims": [`} {
		_, err := ParseClaims(text, model.FacetHazards)
		assert.ErrorIs(t, err, ErrMalformedOutput, "input %q", text)
	}
}

func TestClaimGenerator_StripsLeakedCitations(t *testing.T) {
	provider := &stubProvider{text: `{"claims": [
		{"text": "Move to higher ground.", "category": "evacuation", "citations": ["fema-1", "blog-9"]},
		{"text": "Avoid flood water.", "category": "evacuation", "citations": ["blog-9", "redcross-4"]}
	]}`}
	gen := NewClaimGenerator(provider, Config{StrictEvidence: true, Model: "m"})

	out, err := gen.Generate(context.Background(), floodBundle())
	require.NoError(t, err)

	assert.Equal(t, []string{"fema-1"}, out.Claims[0].Citations)
	assert.Equal(t, []string{"redcross-4"}, out.Claims[1].Citations)
	assert.Equal(t, []string{"blog-9"}, out.Leaked)
	assert.True(t, errors.Is(out.LeakErr(), ErrCitationLeak))
	assert.Equal(t, 7, out.TokensUsed)

	assert.Contains(t, provider.last.Prompt, "[fema-1]")
	assert.Contains(t, provider.last.Prompt, "flash flood")
	assert.Equal(t, "m", provider.last.Model)
}

func TestClaimGenerator_PropagatesProviderError(t *testing.T) {
	boom := Permanent(errors.New("401"))
	gen := NewClaimGenerator(&stubProvider{err: boom}, DefaultConfig())

	_, err := gen.Generate(context.Background(), floodBundle())
	assert.True(t, IsPermanent(err))
}

func TestGeneration_LeakErrNil(t *testing.T) {
	var g *Generation
	assert.NoError(t, g.LeakErr())
	assert.NoError(t, (&Generation{}).LeakErr())
}

func TestBuildPrompt_EmptyBundle(t *testing.T) {
	prompt := BuildPrompt(GenerateRequest{Facet: model.FacetWeather, Query: "storm"})
	assert.Contains(t, prompt, "No evidence retrieved")
	assert.Contains(t, prompt, `"category": "general"`)
}

func TestBuildPrompt_TruncatesChunks(t *testing.T) {
	req := GenerateRequest{Facet: model.FacetHazards, Query: "q"}
	for i := 0; i < maxPromptChunks+2; i++ {
		req.Chunks = append(req.Chunks, model.Chunk{ID: "c", SourceDoc: "d", Text: strings.Repeat("x", maxChunkPromptLen+10)})
	}
	prompt := BuildPrompt(req)
	assert.Contains(t, prompt, "... and 2 more chunks")
	assert.NotContains(t, prompt, strings.Repeat("x", maxChunkPromptLen+1))
}

func TestExtractive_CitesCorroboratingChunks(t *testing.T) {
	out, err := NewExtractive().Generate(context.Background(), floodBundle())
	require.NoError(t, err)
	require.NotEmpty(t, out.Claims)

	first := out.Claims[0]
	assert.Equal(t, "Move to higher ground immediately during a flash flood.", first.Text)
	assert.Equal(t, model.CategoryEvacuation, first.Category)
	assert.Equal(t, []string{"fema-1", "redcross-4"}, first.Citations)
	assert.Empty(t, out.Leaked)
}

func TestLeadSentence_TruncatesOnRuneBoundary(t *testing.T) {
	got := leadSentence(strings.Repeat("é", maxSentenceLen+20))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxSentenceLen+3, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))

	short := "Lleve agua potable."
	assert.Equal(t, short, leadSentence(short))
}

func TestBuildPrompt_TruncatesMultiByteChunk(t *testing.T) {
	req := GenerateRequest{Facet: model.FacetHazards, Query: "q", Chunks: []model.Chunk{
		{ID: "c", SourceDoc: "d", Text: strings.Repeat("水", maxChunkPromptLen+5)},
	}}
	prompt := BuildPrompt(req)
	assert.True(t, utf8.ValidString(prompt))
	assert.Contains(t, prompt, strings.Repeat("水", maxChunkPromptLen)+"...")
}

func TestExtractive_NoEvidence(t *testing.T) {
	out, err := NewExtractive().Generate(context.Background(), GenerateRequest{Facet: model.FacetInjuries, Query: "triage"})
	require.NoError(t, err)
	require.Len(t, out.Claims, 1)
	assert.Empty(t, out.Claims[0].Citations)
	assert.Equal(t, model.CategoryMedical, out.Claims[0].Category)
}

func TestExtractive_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExtractive().Generate(ctx, floodBundle())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewGenerator(t *testing.T) {
	g, err := NewGenerator(Config{})
	require.NoError(t, err)
	assert.Equal(t, "extractive", g.Name())

	g, err = NewGenerator(Config{Provider: "ollama", Model: "llama3.1:8b"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", g.Name())

	_, err = NewGenerator(Config{Provider: "openai"})
	assert.Error(t, err, "openai without a key")

	_, err = NewProvider(Config{Provider: "bard"})
	assert.Error(t, err)
}

func TestConfigFromModel(t *testing.T) {
	cfg := ConfigFromModel(model.DefaultConfig().LLM)
	assert.True(t, cfg.StrictEvidence)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, 1200, cfg.MaxTokens)
}
