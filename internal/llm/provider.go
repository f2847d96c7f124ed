// Package llm wraps the external generation capability: text completion
// providers and the claim generator built on them.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrCitationLeak marks a generated claim that cited a chunk outside its evidence bundle
var ErrCitationLeak = errors.New("citation leak")

// Provider is a text completion backend
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete returns the model's answer to a single prompt
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest is one prompt sent to a provider
type CompletionRequest struct {
	System    string
	Prompt    string
	Model     string // Overrides Config.Model when set
	MaxTokens int    // Overrides Config.MaxTokens when set
}

// CompletionResponse is the provider's raw answer
type CompletionResponse struct {
	Text       string
	Model      string
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", "" (extractive, no LLM)
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout bounds a single HTTP exchange; the pipeline enforces its own per-attempt timeout
	Timeout time.Duration

	// MaxTokens for response generation
	MaxTokens int

	// StrictEvidence strips citations outside the evidence bundle
	StrictEvidence bool

	// Proxy settings (Ollama); empty uses the environment
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:       "",
		Timeout:        30 * time.Second,
		StrictEvidence: true,
		MaxTokens:      1200,
	}
}

// permanentError marks failures that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so callers stop retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// permanentStatus reports HTTP statuses that will not change on retry
func permanentStatus(code int) bool {
	switch code {
	case 400, 401, 403, 404, 422:
		return true
	}
	return false
}
