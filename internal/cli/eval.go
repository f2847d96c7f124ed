package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/disasterops/internal/eval"
)

var (
	evalCorpus   corpusFlags
	evalK        int
	evalJSON     string
	evalMD       string
	evalPipeline bool
	evalTimeout  time.Duration
)

// evalCmd represents the eval command
var evalCmd = &cobra.Command{
	Use:   "eval <scenarios-file>",
	Short: "Measure retrieval quality over labelled scenarios",
	Long: `Eval plans and retrieves every scenario incident and reports Recall@K,
MRR and citation coverage, with means and medians across scenarios.

Scenarios without relevant_chunks are reported for coverage only.
With --pipeline each scenario also runs the full pipeline and reports the
share of grounded claims.

Example:
  disasterops eval scenarios.yaml --db corpus.db
  disasterops eval scenarios.json --chunks chunks.jsonl --md eval.md --json eval.json`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	addCorpusFlags(evalCmd, &evalCorpus)
	evalCmd.Flags().IntVar(&evalK, "k", 5, "cut-off for Recall@K")
	evalCmd.Flags().StringVar(&evalJSON, "json", "", "output JSON report path")
	evalCmd.Flags().StringVar(&evalMD, "md", "", "output Markdown report path")
	evalCmd.Flags().BoolVar(&evalPipeline, "pipeline", false, "also run the full pipeline to measure grounding")
	evalCmd.Flags().DurationVar(&evalTimeout, "timeout", 30*time.Minute, "overall evaluation timeout")
	addLLMFlags(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	scenarios, err := eval.LoadScenarios(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	s, err := openSession(ctx, evalCorpus, true)
	if err != nil {
		return err
	}
	defer s.Close()
	applyLLMFlags(s)

	settings := eval.SettingsFromConfig(s.cfg)
	settings.K = evalK

	options := []eval.Option{eval.WithLogger(s.logger)}
	if evalPipeline {
		ctrl, err := s.controller()
		if err != nil {
			return err
		}
		options = append(options, eval.WithRunner(ctrl))
	}

	banner("DisasterOps Retrieval Evaluation")
	fmt.Fprintf(os.Stderr, "  Scenarios:    %d\n", len(scenarios))
	fmt.Fprintf(os.Stderr, "  Recall@K:     %d\n\n", settings.K)

	report, err := eval.New(s.retriever, settings, options...).Evaluate(ctx, scenarios)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	if err := report.WriteMarkdown(cmd.OutOrStdout()); err != nil {
		return err
	}
	if evalJSON != "" {
		if err := writeReport(evalJSON, report.WriteJSON); err != nil {
			return err
		}
	}
	if evalMD != "" {
		if err := writeReport(evalMD, report.WriteMarkdown); err != nil {
			return err
		}
	}
	return nil
}

func writeReport(path string, write func(w io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, closeErr)
		}
	}()
	return write(f)
}
