package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/disasterops/internal/model"
)

// Renderer writes run output as JSON and as a terse text summary. The
// escalation notice, when present, is always written first.
type Renderer struct {
	showCitations bool
}

// NewRenderer creates a renderer; showCitations lists chunk ids under each claim
func NewRenderer(showCitations bool) *Renderer {
	return &Renderer{showCitations: showCitations}
}

// WriteJSON encodes out to w
func (r *Renderer) WriteJSON(w io.Writer, out *model.Output) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// RenderJSON writes out to path, creating parent directories
func (r *Renderer) RenderJSON(out *model.Output, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := r.WriteJSON(f, out); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode output: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// RenderSummary prints a human-readable digest of out
func (r *Renderer) RenderSummary(w io.Writer, out *model.Output) {
	if out.HasEscalation {
		fmt.Fprintf(w, "\n🚨 %s\n", out.EscalationNotice)
		for _, res := range out.Results() {
			if res.Status == model.StatusEscalated {
				fmt.Fprintf(w, "   • %s\n", res.Claim.Text)
			}
		}
	}

	fmt.Fprintln(w)
	title := out.RunID
	if out.Incident != "" {
		title = out.Incident + " (" + out.RunID + ")"
	}
	fmt.Fprintf(w, "Incident: %s\n", title)
	s := out.Stats
	fmt.Fprintf(w, "Claims: %d  grounded %d  ungrounded %d  escalated %d  (citations %d, queries %d)\n",
		s.Claims, s.Grounded, s.Ungrounded, s.Escalated, s.Citations, s.Queries)

	for _, f := range out.Facets {
		fmt.Fprintf(w, "\n[%s] %s\n", f.Facet, f.Query)
		if len(f.Results) == 0 {
			fmt.Fprintln(w, "   (no claims)")
		}
		for _, res := range f.Results {
			fmt.Fprintf(w, "   %s %s\n", statusMark(res), res.Claim.Text)
			if res.Status == model.StatusUngrounded {
				fmt.Fprintf(w, "      %s\n", res.Reason)
			}
			if r.showCitations && len(res.Citations) > 0 {
				ids := make([]string, len(res.Citations))
				for i, c := range res.Citations {
					ids[i] = fmt.Sprintf("%s (%s, %.2f)", c.ChunkID, c.SourceDoc, c.RelevanceScore)
				}
				fmt.Fprintf(w, "      cites: %s\n", strings.Join(ids, "; "))
			}
		}
	}

	if len(out.Unknowns) > 0 {
		fmt.Fprintf(w, "\nUnverified (%d):\n", len(out.Unknowns))
		for _, c := range out.Unknowns {
			fmt.Fprintf(w, "   ? %s\n", c.Text)
		}
	}
	if len(out.Warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for _, msg := range out.Warnings {
			fmt.Fprintf(w, "   ⚠ %s\n", msg)
		}
	}
}

func statusMark(res model.VerificationResult) string {
	switch res.Status {
	case model.StatusGrounded:
		return fmt.Sprintf("✓ [%s]", res.Confidence)
	case model.StatusEscalated:
		return "🚨 [escalated]"
	default:
		if res.Unknown {
			return "? [unknown]"
		}
		return fmt.Sprintf("✗ [%s]", res.Confidence)
	}
}
