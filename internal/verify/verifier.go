// Package verify gates generated claims against retrieved evidence.
package verify

import (
	"fmt"
	"sort"

	"github.com/ppiankov/disasterops/internal/model"
)

// Thresholds are the grounding and tier cutoffs
type Thresholds struct {
	Grounding             float64
	MultiSourceMin        int
	CorroborationMinScore float64
	HighTierMinSources    int
	HighTierMinScore      float64
	MediumSingleMinScore  float64
	MediumPairMinScore    float64
}

// ThresholdsFromConfig maps the verification config section onto Thresholds
func ThresholdsFromConfig(cfg model.VerificationConfig) Thresholds {
	return Thresholds{
		Grounding:             cfg.GroundingThreshold,
		MultiSourceMin:        cfg.MultiSourceMin,
		CorroborationMinScore: cfg.CorroborationMinScore,
		HighTierMinSources:    cfg.HighTierMinSources,
		HighTierMinScore:      cfg.HighTierMinScore,
		MediumSingleMinScore:  cfg.MediumSingleMinScore,
		MediumPairMinScore:    cfg.MediumPairMinScore,
	}
}

// Verifier is a pure function of (claim, evidence). It holds no mutable
// state and is safe for concurrent use.
type Verifier struct {
	t      Thresholds
	danger *DangerMatcher
}

// New creates a verifier from config
func New(cfg model.VerificationConfig) (*Verifier, error) {
	danger, err := NewDangerMatcher(cfg.DangerPatterns)
	if err != nil {
		return nil, err
	}
	t := ThresholdsFromConfig(cfg)
	if t.MultiSourceMin < 1 {
		t.MultiSourceMin = 2
	}
	if t.HighTierMinSources < 1 {
		t.HighTierMinSources = 2
	}
	return &Verifier{t: t, danger: danger}, nil
}

// Danger exposes the matcher for incident-level screening
func (v *Verifier) Danger() *DangerMatcher {
	return v.danger
}

// Verify applies, in order: safety override, grounding threshold,
// multi-source rule for high-risk categories, confidence tier, and the
// unknown marker for claims with no evidence.
func (v *Verifier) Verify(claim model.Claim, evidence []model.Citation) model.VerificationResult {
	citations := sortedCopy(evidence)
	res := model.VerificationResult{
		Claim:     claim,
		Citations: citations,
	}

	if phrase, ok := v.danger.Match(claim.Text); ok {
		res.Status = model.StatusEscalated
		res.Confidence = model.TierNone
		res.Reason = fmt.Sprintf("imminent danger: %q", phrase)
		return res
	}

	if len(citations) == 0 {
		res.Status = model.StatusUngrounded
		res.Confidence = model.TierNone
		res.Unknown = true
		res.Reason = "unknown: no supporting evidence"
		return res
	}

	res.Confidence = v.tier(citations)
	rule := claim.Category.Rule()

	if citations[0].RelevanceScore < v.t.Grounding {
		res.Status = model.StatusUngrounded
		res.Reason = fmt.Sprintf("best evidence %.2f below grounding threshold %.2f", citations[0].RelevanceScore, v.t.Grounding)
		return res
	}

	if rule.HighRisk {
		need := rule.MinSources
		if need == 0 {
			need = v.t.MultiSourceMin
		}
		if got := corroboratingSources(citations, v.t.CorroborationMinScore); got < need {
			res.Status = model.StatusUngrounded
			res.Reason = fmt.Sprintf("%s claim needs %d independent sources, found %d", claim.Category, need, got)
			return res
		}
		if res.Confidence == model.TierLow {
			res.Status = model.StatusUngrounded
			res.Reason = fmt.Sprintf("%s claim has only low-confidence support", claim.Category)
			return res
		}
	}

	res.Status = model.StatusGrounded
	res.Reason = fmt.Sprintf("%d citation(s) from %d source(s)", len(citations), distinctSources(citations))
	return res
}

// tier grades the per-source best scores
func (v *Verifier) tier(citations []model.Citation) model.ConfidenceTier {
	best := bestPerSource(citations)

	if countAtLeast(best, v.t.HighTierMinScore) >= v.t.HighTierMinSources {
		return model.TierHigh
	}
	if countAtLeast(best, v.t.MediumSingleMinScore) >= 1 || countAtLeast(best, v.t.MediumPairMinScore) >= 2 {
		return model.TierMedium
	}
	return model.TierLow
}

func bestPerSource(citations []model.Citation) map[string]float64 {
	best := make(map[string]float64)
	for _, c := range citations {
		if s, ok := best[c.SourceDoc]; !ok || c.RelevanceScore > s {
			best[c.SourceDoc] = c.RelevanceScore
		}
	}
	return best
}

func countAtLeast(best map[string]float64, min float64) int {
	n := 0
	for _, s := range best {
		if s >= min {
			n++
		}
	}
	return n
}

func corroboratingSources(citations []model.Citation, min float64) int {
	return countAtLeast(bestPerSource(citations), min)
}

func distinctSources(citations []model.Citation) int {
	return len(bestPerSource(citations))
}

func sortedCopy(evidence []model.Citation) []model.Citation {
	out := make([]model.Citation, len(evidence))
	copy(out, evidence)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}
