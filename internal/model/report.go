package model

import "time"

// Status is the terminal verification outcome for one claim
type Status string

const (
	StatusGrounded   Status = "grounded"
	StatusUngrounded Status = "ungrounded"
	StatusEscalated  Status = "escalated"
)

// ConfidenceTier summarises how well a claim is supported
type ConfidenceTier string

const (
	TierHigh   ConfidenceTier = "high"
	TierMedium ConfidenceTier = "medium"
	TierLow    ConfidenceTier = "low"
	TierNone   ConfidenceTier = "none" // Escalated before any evidence was weighed
)

// VerificationResult is the verifier's immutable verdict for one claim
type VerificationResult struct {
	Claim      Claim          `json:"claim"`
	Citations  []Citation     `json:"citations"`
	Confidence ConfidenceTier `json:"confidence_tier"`
	Status     Status         `json:"status"`
	Unknown    bool           `json:"unknown,omitempty"` // No supporting evidence at all
	Reason     string         `json:"reason"`
}

// EscalationNotice is prepended to any output containing an escalated claim
const EscalationNotice = "CALL 911 IMMEDIATELY: an imminent-danger condition was reported. Hand off to emergency services before acting on any other guidance."

// Output is the contract handed to the rendering layer
type Output struct {
	EscalationNotice string        `json:"escalation_notice,omitempty"` // Renderers must surface this first
	HasEscalation    bool          `json:"has_escalation"`
	RunID            string        `json:"run_id"`
	Incident         string        `json:"incident,omitempty"`
	GeneratedAt      time.Time     `json:"generated_at"`
	Facets           []FacetResult `json:"facets"`
	Unknowns         []Claim       `json:"unknowns"`
	Warnings         []string      `json:"warnings,omitempty"`
	Stats            RunStats      `json:"stats"`
}

// FacetResult groups the verification results for one facet
type FacetResult struct {
	Facet     Facet                `json:"facet"`
	Query     string               `json:"query"`
	Requeried bool                 `json:"requeried,omitempty"`
	Citations []Citation           `json:"citations"`
	Results   []VerificationResult `json:"results"`
}

// RunStats are per-run counters
type RunStats struct {
	Queries            int `json:"queries"`
	Citations          int `json:"citations"`
	Claims             int `json:"claims"`
	Grounded           int `json:"grounded"`
	Ungrounded         int `json:"ungrounded"`
	Escalated          int `json:"escalated"`
	GenerationAttempts int `json:"generation_attempts"`
}

// Results returns every verification result across facets, in facet order
func (o *Output) Results() []VerificationResult {
	var all []VerificationResult
	for _, f := range o.Facets {
		all = append(all, f.Results...)
	}
	return all
}
