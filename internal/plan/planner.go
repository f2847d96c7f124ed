// Package plan decomposes an incident into topic-scoped retrieval queries.
package plan

import (
	"strings"

	"github.com/ppiankov/disasterops/internal/model"
)

const (
	maxTerms     = 4 // Items per facet folded into a query
	maxTermWords = 6
)

// Planner turns an incident into one query per facet it reports.
// It is stateless and deterministic.
type Planner struct{}

// New creates a planner
func New() *Planner {
	return &Planner{}
}

// Plan returns queries in facet order, skipping facets the incident does
// not report.
func (p *Planner) Plan(inc model.Incident) []model.Query {
	hazards := terms(inc.Hazards)
	injuries := terms(inc.Injuries)
	infra := terms(inc.Infrastructure)
	resources := terms(append(append([]string{}, inc.Responders...), inc.Constraints...))

	var queries []model.Query
	add := func(f model.Facet, text string) {
		queries = append(queries, model.Query{Topic: f, Text: text})
	}

	if len(hazards) > 0 {
		add(model.FacetHazards, strings.Join(hazards, ", ")+" response procedures emergency management")
	}
	if len(injuries) > 0 {
		add(model.FacetInjuries, "medical triage treatment procedures for "+strings.Join(injuries, ", "))
	}
	if len(infra) > 0 {
		add(model.FacetInfrastructure, "infrastructure damage assessment "+strings.Join(infra, ", "))
	}
	if model.Present(inc.Weather) {
		add(model.FacetWeather, shorten(inc.Weather)+" weather hazards responder safety precautions")
	}
	if len(resources) > 0 {
		add(model.FacetResources, "resource allocation emergency response planning "+strings.Join(resources, ", "))
	}
	if evac, ok := evacuationStatus(inc); ok {
		text := "evacuation procedures safety protocols"
		if evac != "" {
			text = evac + " " + text
		}
		add(model.FacetEvacuation, text)
	}
	return queries
}

// evacuationStatus reports whether the incident carries evacuation
// information, from the explicit field or a mention in hazards/constraints.
func evacuationStatus(inc model.Incident) (string, bool) {
	if model.Present(inc.Evacuation) {
		return shorten(inc.Evacuation), true
	}
	for _, group := range [][]string{inc.Hazards, inc.Constraints} {
		for _, v := range model.Clean(group) {
			if strings.Contains(strings.ToLower(v), "evacuat") {
				return "", true
			}
		}
	}
	return "", false
}

func terms(values []string) []string {
	cleaned := model.Clean(values)
	if len(cleaned) > maxTerms {
		cleaned = cleaned[:maxTerms]
	}
	out := make([]string, len(cleaned))
	for i, v := range cleaned {
		out[i] = shorten(v)
	}
	return out
}

// shorten lowercases v and keeps its first few words
func shorten(v string) string {
	words := strings.Fields(strings.ToLower(v))
	if len(words) > maxTermWords {
		words = words[:maxTermWords]
	}
	return strings.Join(words, " ")
}
