package pipeline

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/disasterops/internal/model"
)

func sampleOutput() *model.Output {
	return &model.Output{
		RunID:    "run-1",
		Incident: "river-district",
		Facets: []model.FacetResult{{
			Facet: model.FacetHazards,
			Query: "flash flood response procedures",
			Results: []model.VerificationResult{
				{
					Claim:      model.Claim{Text: "Move to higher ground."},
					Status:     model.StatusGrounded,
					Confidence: model.TierHigh,
					Citations:  []model.Citation{{ChunkID: "flood-fema-1", SourceDoc: "fema.pdf", RelevanceScore: 0.95}},
				},
				{
					Claim:   model.Claim{Text: "Boil water."},
					Status:  model.StatusUngrounded,
					Unknown: true,
					Reason:  "unknown: no supporting evidence",
				},
			},
		}},
		Unknowns: []model.Claim{{Text: "Boil water."}},
		Warnings: []string{"hazards: citation leak"},
	}
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(true).RenderSummary(&buf, sampleOutput())
	text := buf.String()

	assert.NotContains(t, text, "CALL 911")
	assert.Contains(t, text, "[hazards] flash flood response procedures")
	assert.Contains(t, text, "✓ [high] Move to higher ground.")
	assert.Contains(t, text, "? [unknown] Boil water.")
	assert.Contains(t, text, "cites: flood-fema-1 (fema.pdf, 0.95)")
	assert.Contains(t, text, "Unverified (1)")
	assert.Contains(t, text, "⚠ hazards: citation leak")
}

func TestRenderSummary_EscalationFirst(t *testing.T) {
	out := sampleOutput()
	out.HasEscalation = true
	out.EscalationNotice = model.EscalationNotice
	out.Facets[0].Results = append(out.Facets[0].Results, model.VerificationResult{
		Claim:  model.Claim{Text: "Person trapped under debris."},
		Status: model.StatusEscalated,
	})

	var buf bytes.Buffer
	NewRenderer(false).RenderSummary(&buf, out)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")

	assert.Equal(t, "🚨 "+model.EscalationNotice, lines[0])
	assert.Contains(t, lines[1], "Person trapped under debris.")
}

func TestRenderJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "run.json")
	require.NoError(t, NewRenderer(false).RenderJSON(sampleOutput(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got model.Output
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Len(t, got.Facets[0].Results, 2)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestRenderJSON_EscalationNoticeLeads(t *testing.T) {
	out := sampleOutput()
	out.EscalationNotice = model.EscalationNotice
	out.HasEscalation = true

	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, NewRenderer(false).RenderJSON(out, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	body := strings.TrimLeft(string(data), "{ \n\t")
	assert.True(t, strings.HasPrefix(body, `"escalation_notice"`), "got %.60s", body)
}
