// Package cite resolves ranked results into citable, deduplicated references.
package cite

import (
	"sort"

	"github.com/ppiankov/disasterops/internal/corpus"
	"github.com/ppiankov/disasterops/internal/model"
)

// Mapper resolves results against the chunk store. Results whose chunk id is
// not in the store are dropped, so every Citation it emits has provenance.
type Mapper struct {
	store corpus.Store
}

// NewMapper creates a mapper over store
func NewMapper(store corpus.Store) *Mapper {
	return &Mapper{store: store}
}

type sectionKey struct {
	doc     string
	section string
}

// Map drops results scoring below threshold, keeps the best chunk per
// (source_doc, section), and returns citations by descending score with
// ties broken by chunk id.
func (m *Mapper) Map(results []model.ScoredResult, threshold float64) []model.Citation {
	best := make(map[sectionKey]model.Citation)
	for _, r := range results {
		score := r.Score()
		if score < threshold {
			continue
		}
		chunk, err := m.store.Get(r.ChunkID)
		if err != nil {
			continue
		}
		key := sectionKey{doc: chunk.SourceDoc, section: chunk.Section}
		if cur, ok := best[key]; ok && !better(score, chunk.ID, cur) {
			continue
		}
		best[key] = model.Citation{
			ChunkID:        chunk.ID,
			SourceDoc:      chunk.SourceDoc,
			Section:        chunk.Section,
			Page:           chunk.Page,
			RelevanceScore: score,
		}
	}

	out := make([]model.Citation, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return better(out[i].RelevanceScore, out[i].ChunkID, out[j])
	})
	return out
}

func better(score float64, id string, than model.Citation) bool {
	if score != than.RelevanceScore {
		return score > than.RelevanceScore
	}
	return id < than.ChunkID
}

// DistinctSources counts the distinct source documents among citations
func DistinctSources(citations []model.Citation) int {
	seen := make(map[string]bool, len(citations))
	for _, c := range citations {
		seen[c.SourceDoc] = true
	}
	return len(seen)
}
