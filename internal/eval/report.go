package eval

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WriteJSON writes the report as indented JSON
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteMarkdown writes a human-readable report
func (r *Report) WriteMarkdown(w io.Writer) error {
	var b strings.Builder
	s := r.Summary

	b.WriteString("# Retrieval Evaluation Report\n\n")
	fmt.Fprintf(&b, "**Generated:** %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- **Scenarios:** %d (%d labelled, %d failed)\n", s.Scenarios, s.Labelled, s.Failed)
	fmt.Fprintf(&b, "- **Mean Recall@%d:** %.3f\n", s.K, s.MeanRecall)
	fmt.Fprintf(&b, "- **Median Recall@%d:** %.3f\n", s.K, s.MedianRecall)
	fmt.Fprintf(&b, "- **Mean MRR:** %.3f\n", s.MeanMRR)
	fmt.Fprintf(&b, "- **Median MRR:** %.3f\n", s.MedianMRR)
	fmt.Fprintf(&b, "- **Mean citation coverage:** %.3f\n", s.MeanCoverage)
	if s.MeanGrounding > 0 {
		fmt.Fprintf(&b, "- **Mean grounding rate:** %.3f\n", s.MeanGrounding)
	}

	b.WriteString("\n## Scenarios\n\n")
	fmt.Fprintf(&b, "| Scenario | Recall@%d | MRR | Coverage | Citations |\n", s.K)
	b.WriteString("|---|---|---|---|---|\n")
	for _, res := range r.Results {
		recall, mrr := "n/a", "n/a"
		if res.Labelled {
			recall = fmt.Sprintf("%.3f", res.Recall)
			mrr = fmt.Sprintf("%.3f", res.MRR)
		}
		name := res.Name
		if res.Error != "" {
			name += " (error: " + res.Error + ")"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %.3f | %d/%d |\n",
			name, recall, mrr, res.Coverage, res.UniqueCitations, res.ExpectedMin)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
