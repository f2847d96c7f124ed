package index

import "sort"

// Hit is one candidate from a single index
type Hit struct {
	ChunkID string
	Score   float64
}

// sortHits orders by descending score, ties by ascending chunk id
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

func topN(hits []Hit, n int) []Hit {
	sortHits(hits)
	if n >= 0 && len(hits) > n {
		hits = hits[:n]
	}
	return hits
}
