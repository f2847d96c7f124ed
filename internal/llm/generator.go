package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/disasterops/internal/model"
)

// Generator turns an evidence bundle into claims
type Generator interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*Generation, error)
}

// GenerateRequest is the evidence bundle for one facet. Chunks are the
// resolved texts of Citations, in the same order.
type GenerateRequest struct {
	Facet     model.Facet
	Query     string
	Incident  model.Incident
	Citations []model.Citation
	Chunks    []model.Chunk
}

// Allowed returns the set of chunk ids the generator may cite
func (r GenerateRequest) Allowed() map[string]bool {
	allowed := make(map[string]bool, len(r.Citations))
	for _, c := range r.Citations {
		allowed[c.ChunkID] = true
	}
	return allowed
}

// Generation is a generator's output. Leaked lists citations that were
// stripped because they fell outside the bundle.
type Generation struct {
	Claims     []model.Claim
	Leaked     []string
	Model      string
	TokensUsed int
}

// LeakErr reports stripped citations as an ErrCitationLeak, or nil
func (g *Generation) LeakErr() error {
	if g == nil || len(g.Leaked) == 0 {
		return nil
	}
	return fmt.Errorf("%w: generator cited %s outside the evidence bundle", ErrCitationLeak, strings.Join(g.Leaked, ", "))
}

// ClaimGenerator asks a Provider for JSON claims
type ClaimGenerator struct {
	provider Provider
	config   Config
}

// NewClaimGenerator wraps a completion provider
func NewClaimGenerator(provider Provider, config Config) *ClaimGenerator {
	return &ClaimGenerator{provider: provider, config: config}
}

// Name returns the provider name
func (g *ClaimGenerator) Name() string {
	return g.provider.Name()
}

// Generate prompts the provider and parses its claims
func (g *ClaimGenerator) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	resp, err := g.provider.Complete(ctx, CompletionRequest{
		System:    SystemPrompt,
		Prompt:    BuildPrompt(req),
		Model:     g.config.Model,
		MaxTokens: g.config.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	claims, err := ParseClaims(resp.Text, req.Facet)
	if err != nil {
		return nil, err
	}

	gen := &Generation{
		Claims:     claims,
		Model:      resp.Model,
		TokensUsed: resp.TokensUsed,
	}
	if g.config.StrictEvidence {
		EnforceAllowlist(gen, req.Allowed())
	}
	return gen, nil
}

// EnforceAllowlist strips citations outside allowed from every claim and
// records them in gen.Leaked
func EnforceAllowlist(gen *Generation, allowed map[string]bool) {
	seen := make(map[string]bool)
	for i := range gen.Claims {
		kept := gen.Claims[i].Citations[:0:0]
		for _, id := range gen.Claims[i].Citations {
			if allowed[id] {
				kept = append(kept, id)
				continue
			}
			if !seen[id] {
				seen[id] = true
				gen.Leaked = append(gen.Leaked, id)
			}
		}
		gen.Claims[i].Citations = kept
	}
}
