package verify

import (
	"fmt"
	"regexp"
)

// DefaultDangerPatterns is the built-in imminent-danger lexicon
var DefaultDangerPatterns = []string{
	`active shooter`,
	`bomb`,
	`explosions?`,
	`structural collapse`,
	`critical(ly)? injur(y|ies|ed)`,
	`mass casualt(y|ies)`,
	`trapped`,
	`collapsing`,
	`immediate rescue`,
	`not breathing`,
	`cardiac arrest`,
	`unconscious`,
}

// DangerMatcher detects imminent-danger conditions in free text
type DangerMatcher struct {
	patterns []*regexp.Regexp
}

// NewDangerMatcher compiles the default lexicon plus extra patterns. Every
// pattern is matched case-insensitively on word boundaries.
func NewDangerMatcher(extra []string) (*DangerMatcher, error) {
	all := append(append([]string{}, DefaultDangerPatterns...), extra...)
	m := &DangerMatcher{patterns: make([]*regexp.Regexp, 0, len(all))}
	for _, p := range all {
		re, err := regexp.Compile(`(?i)\b(?:` + p + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("danger pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// Match returns the first matching phrase in text
func (m *DangerMatcher) Match(text string) (string, bool) {
	for _, re := range m.patterns {
		if loc := re.FindStringIndex(text); loc != nil {
			return text[loc[0]:loc[1]], true
		}
	}
	return "", false
}
