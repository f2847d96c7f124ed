package corpus

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/ppiankov/disasterops/internal/model"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id    TEXT PRIMARY KEY,
	text        TEXT NOT NULL,
	source_doc  TEXT NOT NULL,
	section     TEXT NOT NULL DEFAULT '',
	page        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS vectors (
	chunk_id    TEXT PRIMARY KEY,
	dim         INTEGER NOT NULL,
	vector      BLOB NOT NULL,
	FOREIGN KEY (chunk_id) REFERENCES chunks(chunk_id)
);

CREATE TABLE IF NOT EXISTS snapshot_meta (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL
);
`

// ErrSnapshotNotFound is returned by LoadSQLite when no snapshot exists at the path
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is a corpus plus the embeddings computed for it by one embedder
type Snapshot struct {
	Chunks    []model.Chunk
	Vectors   map[string][]float32
	Embedder  string // Provider/model that produced Vectors
	Dimension int
	BuiltAt   time.Time
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// SaveSQLite writes snap to path, replacing any previous snapshot in one transaction
func SaveSQLite(path string, snap Snapshot) error {
	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM vectors", "DELETE FROM chunks", "DELETE FROM snapshot_meta"} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("reset snapshot: %w", err)
		}
	}

	insertChunk, err := tx.Prepare(`INSERT INTO chunks (chunk_id, text, source_doc, section, page) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer insertChunk.Close()

	insertVector, err := tx.Prepare(`INSERT INTO vectors (chunk_id, dim, vector) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare vector insert: %w", err)
	}
	defer insertVector.Close()

	for _, c := range snap.Chunks {
		if _, err := insertChunk.Exec(c.ID, c.Text, c.SourceDoc, c.Section, c.Page); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
		if vec, ok := snap.Vectors[c.ID]; ok {
			if _, err := insertVector.Exec(c.ID, len(vec), encodeVector(vec)); err != nil {
				return fmt.Errorf("insert vector %s: %w", c.ID, err)
			}
		}
	}

	builtAt := snap.BuiltAt
	if builtAt.IsZero() {
		builtAt = time.Now().UTC()
	}
	meta := map[string]string{
		"embedder":  snap.Embedder,
		"dimension": fmt.Sprintf("%d", snap.Dimension),
		"built_at":  builtAt.Format(time.RFC3339Nano),
	}
	for k, v := range meta {
		if _, err := tx.Exec(`INSERT INTO snapshot_meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("insert meta %s: %w", k, err)
		}
	}

	return tx.Commit()
}

// LoadSQLite reads a snapshot written by SaveSQLite. It never creates the
// file or its schema.
func LoadSQLite(path string) (Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, path)
		}
		return Snapshot{}, fmt.Errorf("stat snapshot: %w", err)
	}
	if info.IsDir() {
		return Snapshot{}, fmt.Errorf("%w: %s is a directory", ErrSnapshotNotFound, path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	snap := Snapshot{Vectors: make(map[string][]float32)}

	rows, err := db.Query(`SELECT chunk_id, text, source_doc, section, page FROM chunks ORDER BY chunk_id`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query chunks: %w", err)
	}
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.Text, &c.SourceDoc, &c.Section, &c.Page); err != nil {
			rows.Close()
			return Snapshot{}, fmt.Errorf("scan chunk: %w", err)
		}
		snap.Chunks = append(snap.Chunks, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return Snapshot{}, err
	}
	rows.Close()

	rows, err = db.Query(`SELECT chunk_id, dim, vector FROM vectors`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   string
			dim  int
			blob []byte
		)
		if err := rows.Scan(&id, &dim, &blob); err != nil {
			return Snapshot{}, fmt.Errorf("scan vector: %w", err)
		}
		if len(blob) != dim*4 {
			return Snapshot{}, fmt.Errorf("vector %s: blob length %d does not match dim %d", id, len(blob), dim)
		}
		snap.Vectors[id] = decodeVector(blob)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	metaRows, err := db.Query(`SELECT key, value FROM snapshot_meta`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query meta: %w", err)
	}
	defer metaRows.Close()
	for metaRows.Next() {
		var k, v string
		if err := metaRows.Scan(&k, &v); err != nil {
			return Snapshot{}, fmt.Errorf("scan meta: %w", err)
		}
		switch k {
		case "embedder":
			snap.Embedder = v
		case "dimension":
			fmt.Sscanf(v, "%d", &snap.Dimension)
		case "built_at":
			snap.BuiltAt, _ = time.Parse(time.RFC3339Nano, v)
		}
	}
	return snap, metaRows.Err()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
