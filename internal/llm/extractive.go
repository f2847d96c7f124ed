package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/disasterops/internal/index"
	"github.com/ppiankov/disasterops/internal/model"
)

const (
	maxExtractiveClaims = 3
	maxSentenceLen      = 280
	supportOverlap      = 0.5
)

// Extractive is the offline generator used when no provider is configured.
// Each claim is the lead sentence of a retrieved chunk, citing that chunk
// and every other chunk in the bundle that covers most of its terms.
type Extractive struct{}

// NewExtractive returns the offline generator
func NewExtractive() *Extractive {
	return &Extractive{}
}

// Name returns the generator name
func (e *Extractive) Name() string {
	return "extractive"
}

// Generate never fails unless ctx is done
func (e *Extractive) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gen := &Generation{Model: e.Name()}
	if len(req.Chunks) == 0 {
		gen.Claims = []model.Claim{{
			Text:     fmt.Sprintf("No reference guidance found for %s: %s", req.Facet, req.Query),
			Category: req.Facet.DefaultCategory(),
		}}
		return gen, nil
	}

	tokens := make([]map[string]bool, len(req.Chunks))
	for i, c := range req.Chunks {
		tokens[i] = tokenSet(c.Text)
	}

	seen := make(map[string]bool)
	for i, c := range req.Chunks {
		if len(gen.Claims) >= maxExtractiveClaims {
			break
		}
		sentence := leadSentence(c.Text)
		key := strings.ToLower(sentence)
		if sentence == "" || seen[key] {
			continue
		}
		seen[key] = true

		citations := []string{c.ID}
		terms := tokenSet(sentence)
		for j, other := range req.Chunks {
			if j != i && overlap(terms, tokens[j]) >= supportOverlap {
				citations = append(citations, other.ID)
			}
		}

		gen.Claims = append(gen.Claims, model.Claim{
			Text:      sentence,
			Category:  req.Facet.DefaultCategory(),
			Citations: citations,
		})
	}
	return gen, nil
}

func leadSentence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if end := strings.IndexAny(text, ".!?"); end >= 0 {
		text = text[:end+1]
	}
	if cut, ok := truncate(text, maxSentenceLen); ok {
		text = strings.TrimSpace(cut) + "..."
	}
	return text
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range index.Tokenize(text) {
		set[t] = true
	}
	return set
}

func overlap(terms, in map[string]bool) float64 {
	if len(terms) == 0 {
		return 0
	}
	hit := 0
	for t := range terms {
		if in[t] {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}
