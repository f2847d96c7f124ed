package index

import (
	"errors"
	"testing"

	"github.com/ppiankov/disasterops/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("Floods, the STANDING water & 3 feet of debris!")
	assert.Equal(t, []string{"flood", "standing", "water", "feet", "debri"}, got)
	assert.Equal(t, []string{"injury"}, Tokenize("injuries"))
	assert.Equal(t, []string{"gas", "hazmat"}, Tokenize("gas hazmat"))
	assert.Empty(t, Tokenize("the of and"))
}

func corpus() []model.Chunk {
	return []model.Chunk{
		{ID: "c1", Text: "Flood response: never drive through flood water. Turn around, don't drown."},
		{ID: "c2", Text: "Wildfire smoke exposure and evacuation routes for wildfire zones."},
		{ID: "c3", Text: "Triage injured patients using START triage tags."},
		{ID: "c4", Text: "Flash flood warnings require moving to higher ground immediately."},
	}
}

func TestSparse_Search(t *testing.T) {
	s := NewSparse(corpus(), 0, 0)
	assert.Equal(t, 4, s.Len())

	hits := s.Search("flood water", 10)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].ChunkID, "c1 matches both terms")
	assert.Equal(t, "c4", hits[1].ChunkID)
	assert.Greater(t, hits[0].Score, hits[1].Score)

	assert.Empty(t, s.Search("earthquake", 10))
	assert.Len(t, s.Search("flood", 1), 1)
}

func TestSparse_Empty(t *testing.T) {
	s := NewSparse(nil, DefaultK1, DefaultB)
	assert.Empty(t, s.Search("flood", 5))
}

func TestSparse_TiesByChunkID(t *testing.T) {
	s := NewSparse([]model.Chunk{
		{ID: "b", Text: "shelter"},
		{ID: "a", Text: "shelter"},
	}, 0, 0)
	hits := s.Search("shelter", 5)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.Equal(t, hits[0].Score, hits[1].Score)
}

func TestDense_Search(t *testing.T) {
	d, err := NewDense(map[string][]float32{
		"x": {1, 0, 0},
		"y": {0, 1, 0},
		"z": {0.7, 0.7, 0},
		"0": {0, 0, 0},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len(), "zero vector skipped")
	assert.Equal(t, 3, d.Dimension())

	hits, err := d.Search([]float32{2, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "x", hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "z", hits[1].ChunkID)

	_, err = d.Search([]float32{1, 0}, 2)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestDense_BuildRejectsMixedDimensions(t *testing.T) {
	_, err := NewDense(map[string][]float32{"a": {1, 0}, "b": {1, 0, 0}})
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestDense_SkipsEmptyVectors(t *testing.T) {
	d, err := NewDense(map[string][]float32{
		"00-empty": {},
		"01-nil":   nil,
		"a":        {1, 0},
		"b":        {0, 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, 2, d.Dimension())
}

func TestDense_Empty(t *testing.T) {
	d, err := NewDense(nil)
	require.NoError(t, err)
	hits, err := d.Search([]float32{1, 2}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 1}, []float32{2, 2}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 1}))
}
