package model

import "strings"

// Claim is an operational assertion produced by the generation capability.
// The verifier never mutates it.
type Claim struct {
	Text      string   `json:"text"`
	Category  Category `json:"category"`
	Citations []string `json:"citations,omitempty"` // Chunk IDs the generator says it used
}

// Category classifies the risk of a claim
type Category string

const (
	CategoryGeneral       Category = "general"
	CategoryMedical       Category = "medical"
	CategoryEvacuation    Category = "evacuation"
	CategoryHazmat        Category = "hazmat"
	CategoryStructural    Category = "structural"
	CategoryOtherHighRisk Category = "other-high-risk"
)

// CategoryRule describes how strictly claims of a category are grounded.
type CategoryRule struct {
	HighRisk   bool // Requires corroboration and forbids low-tier surfacing
	MinSources int  // Distinct source documents required; 0 means the configured default
}

// CategoryRules is the closed rule table. Adding a high-risk category is a
// new row here, not a new branch in the verifier.
var CategoryRules = map[Category]CategoryRule{
	CategoryGeneral:       {HighRisk: false},
	CategoryMedical:       {HighRisk: true},
	CategoryEvacuation:    {HighRisk: true},
	CategoryHazmat:        {HighRisk: true},
	CategoryStructural:    {HighRisk: true},
	CategoryOtherHighRisk: {HighRisk: true},
}

// Rule returns the rule for c. Unknown categories get the strictest rule.
func (c Category) Rule() CategoryRule {
	if rule, ok := CategoryRules[c]; ok {
		return rule
	}
	return CategoryRules[CategoryOtherHighRisk]
}

// IsHighRisk reports whether claims in c need multi-source grounding
func (c Category) IsHighRisk() bool {
	return c.Rule().HighRisk
}

// ParseCategory maps free text from a generator onto the closed set.
// Empty input yields fallback; anything unrecognised is treated as other-high-risk.
func ParseCategory(raw string, fallback Category) Category {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, " ", "-")
	if s == "" {
		return fallback
	}
	switch s {
	case "general":
		return CategoryGeneral
	case "medical", "medicine", "triage":
		return CategoryMedical
	case "evacuation", "evac":
		return CategoryEvacuation
	case "hazmat", "chemical":
		return CategoryHazmat
	case "structural", "structure":
		return CategoryStructural
	default:
		return CategoryOtherHighRisk
	}
}
