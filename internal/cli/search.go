package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/disasterops/internal/cite"
	"github.com/ppiankov/disasterops/internal/model"
)

var (
	searchCorpus corpusFlags
	searchFacet  string
	searchTopK   int
	searchWindow int
	searchAll    bool
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run one ad-hoc query through the hybrid retriever",
	Long: `Search runs a single query through sparse and dense retrieval, fuses the
rankings and prints the resulting citations with their scores.

Results below the citation threshold are hidden unless --all is given.

Example:
  disasterops search "flash flood evacuation routes" --chunks corpus/chunks.jsonl
  disasterops search "tourniquet application" --db corpus.db --top-k 10 --all`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	addCorpusFlags(searchCmd, &searchCorpus)
	searchCmd.Flags().StringVar(&searchFacet, "facet", string(model.FacetHazards), "topic tag for the query")
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "results to return (default: retrieval.top_k)")
	searchCmd.Flags().IntVar(&searchWindow, "window", 0, "candidates per index (default: retrieval.candidate_window)")
	searchCmd.Flags().BoolVar(&searchAll, "all", false, "show every ranked result, not only citable ones")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s, err := openSession(ctx, searchCorpus, true)
	if err != nil {
		return err
	}
	defer s.Close()

	k, n := searchTopK, searchWindow
	if k <= 0 {
		k = s.cfg.Retrieval.TopK
	}
	if n <= 0 {
		n = s.cfg.Retrieval.CandidateWindow
	}
	if n < k {
		n = k
	}

	q := model.Query{Topic: model.Facet(searchFacet), Text: strings.Join(args, " ")}
	results, err := s.retriever.RetrieveWindow(ctx, q, k, n)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if searchAll {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tCHUNK\tSPARSE\tDENSE\tFUSED\tSCORE")
		for _, r := range results {
			fmt.Fprintf(tw, "%d\t%s\t%.3f\t%.3f\t%.4f\t%.4f\n",
				r.Rank, r.ChunkID, r.SparseScore, r.DenseScore, r.FusedScore, r.Score())
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}

	citations := cite.NewMapper(s.retriever.Store()).Map(results, s.cfg.Retrieval.CitationThreshold)
	if len(citations) == 0 {
		fmt.Fprintf(out, "No citations above threshold %.2f for %q\n", s.cfg.Retrieval.CitationThreshold, q.Text)
		return nil
	}

	fmt.Fprintf(out, "Citations for %q (%d sources):\n", q.Text, cite.DistinctSources(citations))
	for i, c := range citations {
		loc := c.SourceDoc
		if c.Section != "" {
			loc += " › " + c.Section
		}
		if c.Page > 0 {
			loc += fmt.Sprintf(" p.%d", c.Page)
		}
		fmt.Fprintf(out, "  %d. [%s] %s (%.3f)\n", i+1, c.ChunkID, loc, c.RelevanceScore)
	}
	return nil
}
