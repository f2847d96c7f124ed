// Package eval measures retrieval quality over labelled incident scenarios.
package eval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/disasterops/internal/model"
)

// DefaultExpectedCitations is used when a scenario omits expected_citations_min
const DefaultExpectedCitations = 5

// Scenario is one evaluation case. RelevantChunks are the ground-truth chunk
// ids; a scenario without them still reports coverage but is left out of the
// recall and MRR aggregates.
type Scenario struct {
	Name                 string         `json:"name" yaml:"name"`
	Description          string         `json:"description,omitempty" yaml:"description,omitempty"`
	Incident             model.Incident `json:"incident" yaml:"incident"`
	RelevantChunks       []string       `json:"relevant_chunks,omitempty" yaml:"relevant_chunks,omitempty"`
	ExpectedCitationsMin int            `json:"expected_citations_min,omitempty" yaml:"expected_citations_min,omitempty"`
	RiskLevel            string         `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
}

// Labelled reports whether the scenario carries ground-truth chunks
func (s Scenario) Labelled() bool {
	return len(s.RelevantChunks) > 0
}

// Relevant returns the ground truth as a set
func (s Scenario) Relevant() map[string]bool {
	set := make(map[string]bool, len(s.RelevantChunks))
	for _, id := range s.RelevantChunks {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = true
		}
	}
	return set
}

type scenarioFile struct {
	Scenarios []Scenario `json:"scenarios" yaml:"scenarios"`
}

// LoadScenarios reads a YAML or JSON scenario file holding either a list or
// a {scenarios: [...]} document.
func LoadScenarios(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenarios: %w", err)
	}

	var scenarios []Scenario
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		scenarios, err = decodeJSON(data)
	default:
		scenarios, err = decodeYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for i := range scenarios {
		if scenarios[i].Name == "" {
			scenarios[i].Name = fmt.Sprintf("scenario-%d", i+1)
		}
		if scenarios[i].ExpectedCitationsMin == 0 {
			scenarios[i].ExpectedCitationsMin = DefaultExpectedCitations
		}
	}
	return scenarios, nil
}

func decodeJSON(data []byte) ([]Scenario, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []Scenario
		err := json.Unmarshal(data, &list)
		return list, err
	}
	var doc scenarioFile
	err := json.Unmarshal(data, &doc)
	return doc.Scenarios, err
}

func decodeYAML(data []byte) ([]Scenario, error) {
	var list []Scenario
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc scenarioFile
	err := yaml.Unmarshal(data, &doc)
	return doc.Scenarios, err
}
