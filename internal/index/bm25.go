package index

import (
	"math"

	"github.com/ppiankov/disasterops/internal/model"
)

// Default BM25 Okapi parameters
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// Sparse is an inverted-index BM25 scorer. Immutable after NewSparse.
type Sparse struct {
	k1, b    float64
	docIDs   []string
	docLen   []int
	avgLen   float64
	postings map[string][]posting
	idf      map[string]float64
}

type posting struct {
	doc int
	tf  int
}

// NewSparse indexes chunk text. Non-positive k1 or b fall back to defaults.
func NewSparse(chunks []model.Chunk, k1, b float64) *Sparse {
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b <= 0 || b > 1 {
		b = DefaultB
	}

	s := &Sparse{
		k1:       k1,
		b:        b,
		docIDs:   make([]string, len(chunks)),
		docLen:   make([]int, len(chunks)),
		postings: make(map[string][]posting),
		idf:      make(map[string]float64),
	}

	total := 0
	for i, c := range chunks {
		tokens := Tokenize(c.Text)
		s.docIDs[i] = c.ID
		s.docLen[i] = len(tokens)
		total += len(tokens)

		tf := make(map[string]int)
		for _, t := range tokens {
			tf[t]++
		}
		for t, n := range tf {
			s.postings[t] = append(s.postings[t], posting{doc: i, tf: n})
		}
	}
	if len(chunks) > 0 {
		s.avgLen = float64(total) / float64(len(chunks))
	}

	n := float64(len(chunks))
	for t, p := range s.postings {
		df := float64(len(p))
		// Lucene-style idf stays positive for terms present in most documents
		s.idf[t] = math.Log(1 + (n-df+0.5)/(df+0.5))
	}
	return s
}

// Len returns the number of indexed documents
func (s *Sparse) Len() int {
	return len(s.docIDs)
}

// Search returns up to n chunks that share at least one term with query
func (s *Sparse) Search(query string, n int) []Hit {
	if len(s.docIDs) == 0 || n == 0 {
		return nil
	}

	terms := uniqueTerms(Tokenize(query))
	scores := make(map[int]float64)
	for _, t := range terms {
		idf := s.idf[t]
		for _, p := range s.postings[t] {
			tf := float64(p.tf)
			norm := 1 - s.b + s.b*float64(s.docLen[p.doc])/s.avgLen
			scores[p.doc] += idf * tf * (s.k1 + 1) / (tf + s.k1*norm)
		}
	}

	hits := make([]Hit, 0, len(scores))
	for doc, score := range scores {
		if score > 0 {
			hits = append(hits, Hit{ChunkID: s.docIDs[doc], Score: score})
		}
	}
	return topN(hits, n)
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0:0]
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
