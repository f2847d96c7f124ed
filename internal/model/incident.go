package model

import "strings"

// Incident is the structured record produced by the intake step
type Incident struct {
	Name           string   `json:"name,omitempty" yaml:"name,omitempty"`
	Hazards        []string `json:"hazards" yaml:"hazards"`
	Injuries       []string `json:"injuries" yaml:"injuries"`
	Infrastructure []string `json:"infrastructure" yaml:"infrastructure"`
	Weather        string   `json:"weather" yaml:"weather"`
	Responders     []string `json:"responders" yaml:"responders"`
	Constraints    []string `json:"constraints" yaml:"constraints"`
	Evacuation     string   `json:"evacuation,omitempty" yaml:"evacuation,omitempty"` // Evacuation status, if reported
}

// placeholders are intake values that mean "nothing reported"
var placeholders = map[string]bool{
	"":        true,
	"none":    true,
	"n/a":     true,
	"na":      true,
	"unknown": true,
	"null":    true,
	"no":      true,
}

// Present reports whether an intake value carries information
func Present(value string) bool {
	return !placeholders[strings.ToLower(strings.TrimSpace(value))]
}

// Clean drops placeholder values and duplicates while keeping order
func Clean(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if !Present(v) || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
