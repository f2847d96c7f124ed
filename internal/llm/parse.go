package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ppiankov/disasterops/internal/model"
)

// ErrMalformedOutput is returned when a completion holds no parseable claims
var ErrMalformedOutput = errors.New("malformed generation output")

var (
	codeFence     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

type rawClaim struct {
	Text      string   `json:"text"`
	Claim     string   `json:"claim"`
	Category  string   `json:"category"`
	Citations []string `json:"citations"`
}

// ParseClaims extracts claims from a completion. It accepts a bare array or
// an object with a "claims" field, optionally inside a code fence. Claims
// without a category take the facet default.
func ParseClaims(text string, facet model.Facet) ([]model.Claim, error) {
	payload := extractJSON(text)
	if payload == "" {
		return nil, fmt.Errorf("%w: no JSON found", ErrMalformedOutput)
	}
	payload = trailingComma.ReplaceAllString(payload, "$1")

	var raws []rawClaim
	if strings.HasPrefix(payload, "[") {
		if err := json.Unmarshal([]byte(payload), &raws); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
	} else {
		var wrapper struct {
			Claims []rawClaim `json:"claims"`
		}
		if err := json.Unmarshal([]byte(payload), &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		raws = wrapper.Claims
	}

	claims := make([]model.Claim, 0, len(raws))
	for _, r := range raws {
		t := strings.TrimSpace(r.Text)
		if t == "" {
			t = strings.TrimSpace(r.Claim)
		}
		if t == "" {
			continue
		}
		claims = append(claims, model.Claim{
			Text:      t,
			Category:  model.ParseCategory(r.Category, facet.DefaultCategory()),
			Citations: dedupe(r.Citations),
		})
	}
	return claims, nil
}

// extractJSON returns the first JSON object or array in text
func extractJSON(text string) string {
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = strings.TrimSpace(text)

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	open := text[start]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end < start {
		return ""
	}
	return text[start : end+1]
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.Trim(strings.TrimSpace(id), "[]")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
