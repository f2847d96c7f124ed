package model

// Chunk is a unit of corpus text with stable provenance. Chunks are created
// at ingest and never mutated.
type Chunk struct {
	ID        string `json:"chunk_id"`
	Text      string `json:"text"`
	SourceDoc string `json:"source_doc"`
	Section   string `json:"section,omitempty"`
	Page      int    `json:"page,omitempty"`
}

// Facet is one information need decomposed from an incident
type Facet string

const (
	FacetHazards        Facet = "hazards"
	FacetInjuries       Facet = "injuries"
	FacetInfrastructure Facet = "infrastructure"
	FacetWeather        Facet = "weather"
	FacetResources      Facet = "resources"
	FacetEvacuation     Facet = "evacuation"
)

// Facets lists every facet in planning order
var Facets = []Facet{
	FacetHazards,
	FacetInjuries,
	FacetInfrastructure,
	FacetWeather,
	FacetResources,
	FacetEvacuation,
}

// DefaultCategory is the category assumed for claims generated for f
// when the generator omits one.
func (f Facet) DefaultCategory() Category {
	switch f {
	case FacetInjuries:
		return CategoryMedical
	case FacetEvacuation:
		return CategoryEvacuation
	case FacetInfrastructure:
		return CategoryStructural
	default:
		return CategoryGeneral
	}
}

// Query is a topic-scoped retrieval request
type Query struct {
	Topic Facet  `json:"topic_tag"`
	Text  string `json:"text"`
}

// ScoredResult is one ranked retrieval hit. Rank is 1-based and determined
// by FusedScore (or RerankScore when Reranked), ties broken by ChunkID.
type ScoredResult struct {
	ChunkID     string  `json:"chunk_id"`
	SparseScore float64 `json:"sparse_score"`
	DenseScore  float64 `json:"dense_score"`
	FusedScore  float64 `json:"fused_score"`
	RerankScore float64 `json:"rerank_score,omitempty"`
	Reranked    bool    `json:"reranked,omitempty"`
	Rank        int     `json:"rank"`
}

// Score returns the authoritative ranking score
func (r ScoredResult) Score() float64 {
	if r.Reranked {
		return r.RerankScore
	}
	return r.FusedScore
}

// Citation is an externally citable reference to a chunk
type Citation struct {
	ChunkID        string  `json:"chunk_id"`
	SourceDoc      string  `json:"source_doc"`
	Section        string  `json:"section,omitempty"`
	Page           int     `json:"page,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
}
