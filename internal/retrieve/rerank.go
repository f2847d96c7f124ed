package retrieve

import (
	"context"

	"github.com/ppiankov/disasterops/internal/index"
)

// Candidate is one fused result handed to a Reranker
type Candidate struct {
	ChunkID    string
	Text       string
	FusedScore float64
}

// Reranker rescores the fused top-k. Returned scores are authoritative,
// one per candidate in input order, on a 0-1 scale.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]float64, error)
}

// TermCoverage scores how much of the query a chunk covers: 0.75 weight on
// unigram coverage and 0.25 on adjacent-pair coverage.
type TermCoverage struct{}

// Rerank implements Reranker
func (TermCoverage) Rerank(_ context.Context, query string, candidates []Candidate) ([]float64, error) {
	qTokens := index.Tokenize(query)
	qTerms := set(qTokens)
	qPairs := pairs(qTokens)

	scores := make([]float64, len(candidates))
	if len(qTerms) == 0 {
		return scores, nil
	}
	for i, c := range candidates {
		tokens := index.Tokenize(c.Text)
		terms := set(tokens)
		cPairs := pairs(tokens)

		var hit int
		for t := range qTerms {
			if terms[t] {
				hit++
			}
		}
		score := float64(hit) / float64(len(qTerms))

		if len(qPairs) > 0 {
			var pairHit int
			for p := range qPairs {
				if cPairs[p] {
					pairHit++
				}
			}
			score = 0.75*score + 0.25*float64(pairHit)/float64(len(qPairs))
		}
		scores[i] = score
	}
	return scores, nil
}

func set(tokens []string) map[string]bool {
	m := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		m[t] = true
	}
	return m
}

func pairs(tokens []string) map[string]bool {
	m := make(map[string]bool)
	for i := 1; i < len(tokens); i++ {
		m[tokens[i-1]+" "+tokens[i]] = true
	}
	return m
}
