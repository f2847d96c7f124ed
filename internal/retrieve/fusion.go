package retrieve

import (
	"github.com/ppiankov/disasterops/internal/index"
	"github.com/ppiankov/disasterops/internal/model"
)

// fuseRRF combines ranks: alpha/(c+rank_dense) + (1-alpha)/(c+rank_sparse),
// scaled by (c+1) so a chunk ranked first by both indexes scores 1.0.
// A chunk missing from one list gets nothing from that side.
func fuseRRF(sparse, dense []index.Hit, alpha, c float64) []model.ScoredResult {
	byID := make(map[string]*model.ScoredResult, len(sparse)+len(dense))
	get := func(id string) *model.ScoredResult {
		if r, ok := byID[id]; ok {
			return r
		}
		r := &model.ScoredResult{ChunkID: id}
		byID[id] = r
		return r
	}

	for i, h := range sparse {
		r := get(h.ChunkID)
		r.SparseScore = h.Score
		r.FusedScore += (1 - alpha) * (c + 1) / (c + float64(i+1))
	}
	for i, h := range dense {
		r := get(h.ChunkID)
		r.DenseScore = h.Score
		r.FusedScore += alpha * (c + 1) / (c + float64(i+1))
	}
	return collect(byID)
}

// fuseWeighted combines min-max normalised scores: alpha*dense + (1-alpha)*sparse
func fuseWeighted(sparse, dense []index.Hit, alpha float64) []model.ScoredResult {
	byID := make(map[string]*model.ScoredResult, len(sparse)+len(dense))
	get := func(id string) *model.ScoredResult {
		if r, ok := byID[id]; ok {
			return r
		}
		r := &model.ScoredResult{ChunkID: id}
		byID[id] = r
		return r
	}

	sparseNorm := minMax(sparse)
	for i, h := range sparse {
		r := get(h.ChunkID)
		r.SparseScore = h.Score
		r.FusedScore += (1 - alpha) * sparseNorm[i]
	}
	denseNorm := minMax(dense)
	for i, h := range dense {
		r := get(h.ChunkID)
		r.DenseScore = h.Score
		r.FusedScore += alpha * denseNorm[i]
	}
	return collect(byID)
}

// minMax scales scores within the candidate set onto [0,1]. A set with a
// single distinct value maps to 1 since every member is equally the best.
func minMax(hits []index.Hit) []float64 {
	out := make([]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		lo = min(lo, h.Score)
		hi = max(hi, h.Score)
	}
	for i, h := range hits {
		if hi == lo {
			out[i] = 1
			continue
		}
		out[i] = (h.Score - lo) / (hi - lo)
	}
	return out
}

func collect(byID map[string]*model.ScoredResult) []model.ScoredResult {
	out := make([]model.ScoredResult, 0, len(byID))
	for _, r := range byID {
		out = append(out, *r)
	}
	return out
}
