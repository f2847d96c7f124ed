package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDimensionMismatch is returned when a vector does not match the index dimension
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Dense is a brute-force cosine similarity index over unit-normalised
// vectors. Immutable after NewDense.
type Dense struct {
	dim     int
	ids     []string
	vectors [][]float32
}

// NewDense builds an index from chunk vectors. All vectors must share one
// dimension; empty and zero vectors are skipped since they have no direction.
func NewDense(vectors map[string][]float32) (*Dense, error) {
	ids := make([]string, 0, len(vectors))
	for id, v := range vectors {
		if len(v) == 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	d := &Dense{dim: -1}
	for _, id := range ids {
		v := vectors[id]
		if d.dim == -1 {
			d.dim = len(v)
		}
		if len(v) != d.dim {
			return nil, fmt.Errorf("%w: chunk %s has %d, expected %d", ErrDimensionMismatch, id, len(v), d.dim)
		}
		unit, ok := normalize(v)
		if !ok {
			continue
		}
		d.ids = append(d.ids, id)
		d.vectors = append(d.vectors, unit)
	}
	if d.dim == -1 {
		d.dim = 0
	}
	return d, nil
}

// Len returns the number of indexed vectors
func (d *Dense) Len() int {
	return len(d.ids)
}

// Dimension returns the vector dimension, 0 for an empty index
func (d *Dense) Dimension() int {
	return d.dim
}

// Search returns the n chunks most similar to query
func (d *Dense) Search(query []float32, n int) ([]Hit, error) {
	if len(d.ids) == 0 || n == 0 {
		return nil, nil
	}
	if len(query) != d.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), d.dim)
	}
	q, ok := normalize(query)
	if !ok {
		return nil, nil
	}

	hits := make([]Hit, len(d.ids))
	for i, v := range d.vectors {
		var dot float64
		for j := range v {
			dot += float64(v[j]) * float64(q[j])
		}
		hits[i] = Hit{ChunkID: d.ids[i], Score: dot}
	}
	return topN(hits, n), nil
}

// Cosine returns the cosine similarity of a and b, 0 when either is zero
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func normalize(v []float32) ([]float32, bool) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return nil, false
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out, true
}
