package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/disasterops/internal/corpus"
	"github.com/ppiankov/disasterops/internal/embed"
)

var (
	indexCorpus    corpusFlags
	indexOut       string
	indexBatchSize int
	indexTimeout   time.Duration
)

// indexCmd groups offline index maintenance
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build and inspect corpus snapshots",
	Long: `Index builds are offline: they embed every chunk once and write a SQLite
snapshot that run, batch, search and eval load read-only.`,
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Embed the chunk corpus and write a SQLite snapshot",
	Long: `Build loads the chunk file (and optional citation index), embeds every
chunk with the configured embedder and writes chunks plus vectors to a
SQLite snapshot.

Example:
  disasterops index build --chunks corpus/chunks.jsonl --out corpus.db
  DISASTEROPS_EMBEDDING_PROVIDER=openai disasterops index build --chunks chunks.json --out corpus.db`,
	Args: cobra.NoArgs,
	RunE: runIndexBuild,
}

var indexInfoCmd = &cobra.Command{
	Use:   "info <snapshot>",
	Short: "Print what a SQLite snapshot contains",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := corpus.LoadSQLite(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Snapshot:   %s\n", args[0])
		fmt.Fprintf(out, "Chunks:     %d\n", len(snap.Chunks))
		fmt.Fprintf(out, "Sources:    %d\n", countSources(snap))
		fmt.Fprintf(out, "Vectors:    %d\n", len(snap.Vectors))
		fmt.Fprintf(out, "Embedder:   %s (dimension %d)\n", snap.Embedder, snap.Dimension)
		if !snap.BuiltAt.IsZero() {
			fmt.Fprintf(out, "Built:      %s\n", snap.BuiltAt.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexInfoCmd)

	indexBuildCmd.Flags().StringVar(&indexCorpus.chunks, "chunks", "", "chunk file (JSON array or JSONL)")
	indexBuildCmd.Flags().StringVar(&indexCorpus.citations, "citation-index", "", "citation index overlay (JSON)")
	indexBuildCmd.Flags().StringVar(&indexOut, "out", "corpus.db", "snapshot path to write")
	indexBuildCmd.Flags().IntVar(&indexBatchSize, "batch-size", 64, "chunks per embedding request")
	indexBuildCmd.Flags().DurationVar(&indexTimeout, "timeout", 30*time.Minute, "overall build timeout")
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()

	s, err := openSession(ctx, indexCorpus, false)
	if err != nil {
		return err
	}
	defer s.Close()

	// A snapshot build always starts from the chunk file
	s.cfg.Corpus.SQLitePath = ""
	s.cfg.Embedding.EmbeddingsPath = ""

	snap, err := buildSnapshot(ctx, s, indexBatchSize)
	if err != nil {
		return err
	}
	if err := corpus.SaveSQLite(indexOut, snap); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	fmt.Fprintf(os.Stderr, "✓ Indexed %d chunks from %d sources\n", len(snap.Chunks), countSources(snap))
	fmt.Fprintf(os.Stderr, "✓ Embedder: %s (dimension %d)\n", snap.Embedder, snap.Dimension)
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", indexOut)
	return nil
}

// buildSnapshot embeds every chunk of the configured corpus
func buildSnapshot(ctx context.Context, s *session, batchSize int) (corpus.Snapshot, error) {
	lc, err := loadCorpus(s.cfg)
	if err != nil {
		return corpus.Snapshot{}, err
	}
	chunks := lc.store.All()

	vectors, err := embed.All(ctx, s.embedder, chunks, batchSize)
	if err != nil {
		return corpus.Snapshot{}, fmt.Errorf("embed corpus: %w", err)
	}

	dim := s.embedder.Dimension()
	for _, v := range vectors {
		dim = len(v)
		break
	}
	return corpus.Snapshot{
		Chunks:    chunks,
		Vectors:   vectors,
		Embedder:  s.embedder.Name(),
		Dimension: dim,
		BuiltAt:   time.Now().UTC(),
	}, nil
}

func countSources(snap corpus.Snapshot) int {
	seen := make(map[string]bool)
	for _, c := range snap.Chunks {
		seen[c.SourceDoc] = true
	}
	return len(seen)
}
