package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/disasterops/internal/pipeline"
	"github.com/ppiankov/disasterops/internal/telemetry"
	"github.com/ppiankov/disasterops/internal/worker"
)

var (
	batchCorpus  corpusFlags
	concurrency  int
	outputDir    string
	batchTimeout time.Duration
	manifest     string
	metricsAddr  string
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch [paths...]",
	Short: "Run many incident files in parallel",
	Long: `Batch processes many incidents concurrently:
- Read incident files (JSON or YAML) or directories of them
- Optionally read file paths from a manifest (one per line)
- Run each incident independently over the shared read-only index
- Throttle generation calls per provider
- Write one JSON report per incident

Example:
  disasterops batch incidents/ --db corpus.db
  disasterops batch --manifest incidents.txt --concurrency 8 --output-dir ./reports
  disasterops batch incidents/ --metrics-addr :9090`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	addCorpusFlags(batchCmd, &batchCorpus)
	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent workers (default: concurrency.batch_workers)")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./disasterops-reports", "output directory for reports")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().StringVar(&manifest, "manifest", "", "file listing incident paths, one per line")
	batchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address while running")
	addLLMFlags(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	paths := append([]string{}, args...)
	if manifest != "" {
		listed, err := worker.ReadManifest(manifest)
		if err != nil {
			return fmt.Errorf("read manifest: %w", err)
		}
		paths = append(paths, listed...)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no incident files given (pass paths or --manifest)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	s, err := openSession(ctx, batchCorpus, true)
	if err != nil {
		return err
	}
	defer s.Close()
	applyLLMFlags(s)

	workers := concurrency
	if workers <= 0 {
		workers = s.cfg.Concurrency.BatchWorkers
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	banner("DisasterOps Batch Processing")
	fmt.Fprintf(os.Stderr, "  Inputs:       %d path(s)\n", len(paths))
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", workers)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	if s.cfg.LLM.Provider != "" {
		fmt.Fprintf(os.Stderr, "  LLM:          %s/%s\n", s.cfg.LLM.Provider, s.cfg.LLM.Model)
	}
	fmt.Fprintf(os.Stderr, "\n")

	if metricsAddr != "" {
		srv, err := telemetry.ServeMetrics(metricsAddr, s.logger)
		if err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() { _ = srv.Shutdown(context.Background()) }()
		fmt.Fprintf(os.Stderr, "  Metrics:      http://%s/metrics\n\n", srv.Addr())
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ctrl, err := s.controller()
	if err != nil {
		return err
	}

	processor := worker.NewBatchProcessor(ctrl, workers, s.logger)
	fmt.Fprintf(os.Stderr, "⚙️  Processing incidents with %d workers...\n\n", workers)
	results, err := processor.ProcessFiles(ctx, paths)
	if err != nil {
		return fmt.Errorf("process files: %w", err)
	}

	renderer := pipeline.NewRenderer(false)
	var success, failures, escalated int
	used := make(map[string]int)

	for _, result := range results {
		if result.Result == nil || result.Result.Output == nil {
			failures++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Source, result.Error)
			continue
		}

		out := result.Result.Output
		name := out.Incident
		if name == "" {
			name = result.Source
		}
		slug := uniqueSlug(sanitizeFilename(name), used)
		jsonPath := filepath.Join(outputDir, slug+".json")
		if err := renderer.RenderJSON(out, jsonPath); err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write JSON: %v\n", result.Source, err)
			continue
		}

		if result.Error != nil {
			failures++
			fmt.Fprintf(os.Stderr, "✗ %s: %v (partial report: %s)\n", result.Source, result.Error, jsonPath)
			continue
		}

		success++
		mark := "✓"
		if out.HasEscalation {
			escalated++
			mark = "🚨"
		}
		fmt.Fprintf(os.Stderr, "%s %s (grounded %d/%d, %s)\n",
			mark, name, out.Stats.Grounded, out.Stats.Claims, result.Duration.Round(time.Millisecond))
	}

	banner("Batch Complete")
	fmt.Fprintf(os.Stderr, "  Total:      %d incidents\n", len(results))
	fmt.Fprintf(os.Stderr, "  Success:    %d\n", success)
	fmt.Fprintf(os.Stderr, "  Escalated:  %d\n", escalated)
	fmt.Fprintf(os.Stderr, "  Failures:   %d\n", failures)
	fmt.Fprintf(os.Stderr, "  Output:     %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	if failures > 0 {
		return fmt.Errorf("%d of %d incidents failed", failures, len(results))
	}
	return nil
}

// sanitizeFilename turns an incident name into a safe file stem
func sanitizeFilename(s string) string {
	s = filepath.Base(strings.TrimSpace(s))
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		s = strings.TrimSuffix(s, ext)
	}
	s = strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		"#", "-",
		" ", "-",
	).Replace(s)

	if len(s) > 100 {
		s = s[:100]
	}
	if s == "" || s == "." {
		s = "incident"
	}
	return s
}

// uniqueSlug suffixes repeated stems so reports never overwrite each other
func uniqueSlug(slug string, used map[string]int) string {
	used[slug]++
	if n := used[slug]; n > 1 {
		return fmt.Sprintf("%s-%d", slug, n)
	}
	return slug
}
