// Package corpus holds the immutable chunk store and its on-disk formats.
package corpus

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/disasterops/internal/model"
)

// ErrChunkNotFound is returned when a chunk id is absent from the store
var ErrChunkNotFound = errors.New("chunk not found")

// Store is the read-only chunk lookup used by the engine
type Store interface {
	Get(id string) (model.Chunk, error)
	All() []model.Chunk
	Len() int
}

// MemoryStore is an immutable in-memory Store. Safe for concurrent readers.
type MemoryStore struct {
	byID   map[string]model.Chunk
	sorted []model.Chunk
}

// NewMemoryStore builds a store from chunks. Chunk ids must be unique and
// non-empty; chunks with no text are rejected.
func NewMemoryStore(chunks []model.Chunk) (*MemoryStore, error) {
	s := &MemoryStore{
		byID:   make(map[string]model.Chunk, len(chunks)),
		sorted: make([]model.Chunk, 0, len(chunks)),
	}
	for i, c := range chunks {
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" {
			return nil, fmt.Errorf("chunk %d: empty chunk_id", i)
		}
		if strings.TrimSpace(c.Text) == "" {
			return nil, fmt.Errorf("chunk %s: empty text", c.ID)
		}
		if _, dup := s.byID[c.ID]; dup {
			return nil, fmt.Errorf("chunk %s: duplicate chunk_id", c.ID)
		}
		s.byID[c.ID] = c
		s.sorted = append(s.sorted, c)
	}
	sort.Slice(s.sorted, func(i, j int) bool { return s.sorted[i].ID < s.sorted[j].ID })
	return s, nil
}

// Get returns the chunk with the given id
func (s *MemoryStore) Get(id string) (model.Chunk, error) {
	c, ok := s.byID[id]
	if !ok {
		return model.Chunk{}, fmt.Errorf("%w: %s", ErrChunkNotFound, id)
	}
	return c, nil
}

// All returns every chunk ordered by id. Callers must not modify the slice.
func (s *MemoryStore) All() []model.Chunk {
	return s.sorted
}

// Len returns the number of chunks
func (s *MemoryStore) Len() int {
	return len(s.sorted)
}

// Sources returns the distinct source documents in the store, sorted
func Sources(s Store) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range s.All() {
		if !seen[c.SourceDoc] {
			seen[c.SourceDoc] = true
			out = append(out, c.SourceDoc)
		}
	}
	sort.Strings(out)
	return out
}
