package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/disasterops/internal/pipeline"
	"github.com/ppiankov/disasterops/internal/worker"
)

var (
	runCorpus     corpusFlags
	outJSON       string
	showCitations bool
	runTimeout    time.Duration
	llmProvider   string
	llmModel      string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <incident-file>",
	Short: "Run one incident through retrieval, generation and verification",
	Long: `Run plans topic-scoped queries for an incident, retrieves reference
evidence, generates claims and verifies every claim against that evidence.

Imminent-danger conditions are escalated and printed before anything else.
Claims without enough evidence are listed as unverified.

The incident file is JSON or YAML; a file holding a list runs each incident.

Example:
  disasterops run incident.yaml --chunks corpus/chunks.jsonl
  disasterops run incident.json --db corpus.db --json report.json
  disasterops run incident.yaml --llm-provider openai --llm-model gpt-4o-mini`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	addCorpusFlags(runCmd, &runCorpus)
	runCmd.Flags().StringVar(&outJSON, "json", "", "output JSON path (optional)")
	runCmd.Flags().BoolVar(&showCitations, "show-citations", false, "print cited chunk ids under each claim")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 5*time.Minute, "overall run timeout")
	addLLMFlags(runCmd)
}

func addCorpusFlags(cmd *cobra.Command, f *corpusFlags) {
	cmd.Flags().StringVar(&f.chunks, "chunks", "", "chunk file (JSON array or JSONL)")
	cmd.Flags().StringVar(&f.citations, "citation-index", "", "citation index overlay (JSON)")
	cmd.Flags().StringVar(&f.db, "db", "", "SQLite corpus snapshot written by 'index build'")
	cmd.Flags().StringVar(&f.embeddings, "embeddings", "", "precomputed chunk vectors (JSONL)")
}

func addLLMFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&llmProvider, "llm-provider", "", "generation provider (openai, anthropic, ollama; empty = offline extractive)")
	cmd.Flags().StringVar(&llmModel, "llm-model", "", "generation model name")
}

// applyLLMFlags copies non-empty generation flags into the session config
func applyLLMFlags(s *session) {
	if llmProvider != "" {
		s.cfg.LLM.Provider = llmProvider
		applyKeyEnv(s.cfg)
	}
	if llmModel != "" {
		s.cfg.LLM.Model = llmModel
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	inputs, err := worker.LoadIncidents(args[0])
	if err != nil {
		return err
	}

	s, err := openSession(ctx, runCorpus, true)
	if err != nil {
		return err
	}
	defer s.Close()
	applyLLMFlags(s)

	ctrl, err := s.controller()
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "⚙️  Running %d incident(s) from %s\n\n", len(inputs), args[0])
	}

	renderer := pipeline.NewRenderer(showCitations)
	var failed error
	for i, in := range inputs {
		res, err := ctrl.Run(ctx, in.Incident)
		if res != nil && res.Output != nil {
			renderer.RenderSummary(cmd.OutOrStdout(), res.Output)
			if outJSON != "" {
				path := outJSON
				if len(inputs) > 1 {
					path = indexedPath(outJSON, i)
				}
				if werr := renderer.RenderJSON(res.Output, path); werr != nil {
					return fmt.Errorf("render failed: %w", werr)
				}
				if verbose {
					fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", path)
				}
			}
		}
		if err != nil {
			var runErr *pipeline.RunError
			if errors.As(err, &runErr) {
				fmt.Fprintf(os.Stderr, "✗ %s: %s (%v)\n", in.Source, runErr.Reason, runErr.Err)
			}
			failed = errors.Join(failed, fmt.Errorf("%s: %w", in.Source, err))
		}
	}
	return failed
}

// indexedPath turns report.json into report-2.json for the i-th output
func indexedPath(path string, i int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s-%d%s", path[:len(path)-len(ext)], i+1, ext)
}
