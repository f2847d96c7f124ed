package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ppiankov/disasterops/internal/model"
)

// chunkRecord accepts both the native field names and the legacy ones
// emitted by the knowledge-base chunker.
type chunkRecord struct {
	ChunkID      string `json:"chunk_id"`
	CitationID   string `json:"citation_id"`
	Text         string `json:"text"`
	SourceDoc    string `json:"source_doc"`
	SourceFile   string `json:"source_file"`
	Section      string `json:"section"`
	SectionTitle string `json:"section_title"`
	Page         int    `json:"page"`
	StartPage    int    `json:"start_page"`
}

func (r chunkRecord) chunk() model.Chunk {
	c := model.Chunk{
		ID:        firstNonEmpty(r.ChunkID, r.CitationID),
		Text:      r.Text,
		SourceDoc: firstNonEmpty(r.SourceDoc, r.SourceFile),
		Section:   firstNonEmpty(r.Section, r.SectionTitle),
		Page:      r.Page,
	}
	if c.Page == 0 {
		c.Page = r.StartPage
	}
	return c
}

// Provenance is one entry of a citation index overlay
type Provenance struct {
	SourceDoc string `json:"source_doc"`
	Section   string `json:"section"`
	Page      int    `json:"page"`
}

// LoadChunks reads chunk records from a JSON array or JSONL file
func LoadChunks(path string) ([]model.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chunks: %w", err)
	}
	defer f.Close()

	chunks, err := DecodeChunks(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return chunks, nil
}

// DecodeChunks detects the format from the first non-space byte
func DecodeChunks(r io.Reader) ([]model.Chunk, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var records []chunkRecord
	if first == '[' {
		if err := json.NewDecoder(br).Decode(&records); err != nil {
			return nil, fmt.Errorf("decode chunk array: %w", err)
		}
	} else {
		records, err = decodeJSONL(br)
		if err != nil {
			return nil, err
		}
	}

	chunks := make([]model.Chunk, 0, len(records))
	for _, rec := range records {
		chunks = append(chunks, rec.chunk())
	}
	return chunks, nil
}

func decodeJSONL(r io.Reader) ([]chunkRecord, error) {
	var records []chunkRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec chunkRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	return records, nil
}

// LoadCitationIndex reads a chunk_id -> provenance overlay. Legacy field
// names (source_file, section_title, start_page) are accepted.
func LoadCitationIndex(path string) (map[string]Provenance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read citation index: %w", err)
	}

	var raw map[string]chunkRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode citation index: %w", err)
	}

	index := make(map[string]Provenance, len(raw))
	for id, rec := range raw {
		c := rec.chunk()
		index[id] = Provenance{SourceDoc: c.SourceDoc, Section: c.Section, Page: c.Page}
	}
	return index, nil
}

// ApplyProvenance fills missing provenance fields from the overlay.
// Fields already set on a chunk win.
func ApplyProvenance(chunks []model.Chunk, index map[string]Provenance) []model.Chunk {
	out := make([]model.Chunk, len(chunks))
	for i, c := range chunks {
		if p, ok := index[c.ID]; ok {
			if c.SourceDoc == "" {
				c.SourceDoc = p.SourceDoc
			}
			if c.Section == "" {
				c.Section = p.Section
			}
			if c.Page == 0 {
				c.Page = p.Page
			}
		}
		out[i] = c
	}
	return out
}

// vectorRecord is one line of an embeddings sidecar
type vectorRecord struct {
	ChunkID string    `json:"chunk_id"`
	Vector  []float32 `json:"vector"`
}

// LoadEmbeddings reads a JSONL sidecar of precomputed chunk vectors
func LoadEmbeddings(path string) (map[string][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open embeddings: %w", err)
	}
	defer f.Close()

	vectors := make(map[string][]float32)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	dim := -1
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec vectorRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		if dim == -1 {
			dim = len(rec.Vector)
		}
		if len(rec.Vector) != dim {
			return nil, fmt.Errorf("%s line %d: dimension %d, expected %d", path, line, len(rec.Vector), dim)
		}
		vectors[rec.ChunkID] = rec.Vector
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan embeddings: %w", err)
	}
	return vectors, nil
}

// peekNonSpace skips whitespace and a UTF-8 byte order mark
func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n', 0xEF, 0xBB, 0xBF:
			continue
		}
		return b, br.UnreadByte()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
