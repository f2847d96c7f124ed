package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/disasterops/internal/model"
)

const (
	maxPromptChunks   = 10
	maxChunkPromptLen = 500
)

// SystemPrompt frames every generation call
const SystemPrompt = "You are an emergency response planner. You write short operational claims grounded only in the evidence you are given. You never invent sources."

// BuildPrompt renders the evidence bundle for one facet. The model may only
// cite the chunk ids listed in the bundle.
func BuildPrompt(req GenerateRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Facet: %s\n", req.Facet)
	fmt.Fprintf(&b, "Information need: %s\n\n", req.Query)

	b.WriteString("Incident facts:\n")
	writeFacts(&b, req.Incident)

	b.WriteString("\nEvidence (you MAY ONLY cite these chunk ids):\n")
	if len(req.Chunks) == 0 {
		b.WriteString("(No evidence retrieved for this facet)\n")
	}
	for i, c := range req.Chunks {
		if i >= maxPromptChunks {
			fmt.Fprintf(&b, "... and %d more chunks\n", len(req.Chunks)-maxPromptChunks)
			break
		}
		text := c.Text
		if cut, ok := truncate(text, maxChunkPromptLen); ok {
			text = cut + "..."
		}
		fmt.Fprintf(&b, "[%s] (%s", c.ID, c.SourceDoc)
		if c.Section != "" {
			fmt.Fprintf(&b, ", %s", c.Section)
		}
		fmt.Fprintf(&b, ")\n%s\n\n", strings.TrimSpace(text))
	}

	fmt.Fprintf(&b, `
RULES:
1. Only cite chunk ids from the evidence list above. Never cite anything else.
2. If the evidence does not support an action, say what is unknown instead of guessing.
3. Give each claim one category: general, medical, evacuation, hazmat, structural, other-high-risk.
4. If anyone is in imminent danger, say so plainly in a claim.

Return ONLY JSON, no markdown, in this shape:
{"claims": [{"text": "...", "category": "%s", "citations": ["chunk-id"]}]}
`, req.Facet.DefaultCategory())

	return b.String()
}

func writeFacts(b *strings.Builder, inc model.Incident) {
	write := func(label string, values []string) {
		if cleaned := model.Clean(values); len(cleaned) > 0 {
			fmt.Fprintf(b, "- %s: %s\n", label, strings.Join(cleaned, "; "))
		}
	}
	write("Hazards", inc.Hazards)
	write("Injuries", inc.Injuries)
	write("Infrastructure", inc.Infrastructure)
	write("Weather", []string{inc.Weather})
	write("Responders", inc.Responders)
	write("Constraints", inc.Constraints)
	write("Evacuation", []string{inc.Evacuation})
}

// truncate cuts s to at most n runes, reporting whether anything was cut
func truncate(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	return string([]rune(s)[:n]), true
}
