package pipeline

import (
	"context"
	"time"

	"github.com/ppiankov/disasterops/internal/llm"
	"github.com/ppiankov/disasterops/internal/model"
)

// RetryPolicy bounds retries of the generation capability. Backoff returns
// the delay before attempt+1, given the 1-based attempt that just failed.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// ExponentialBackoff doubles base on every attempt, capped at ceiling
func ExponentialBackoff(base, ceiling time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt && (ceiling <= 0 || d < ceiling); i++ {
			d *= 2
		}
		if ceiling > 0 && d > ceiling {
			d = ceiling
		}
		return d
	}
}

// PolicyFromConfig builds the policy for the generation settings
func PolicyFromConfig(cfg model.LLMConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     ExponentialBackoff(cfg.BackoffBase, cfg.BackoffMax),
	}
}

// Do calls fn until it succeeds, returns a permanent error, ctx is done, or
// MaxAttempts is reached. It returns the number of attempts made and the
// last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt - 1, ctxErr
		}

		err = fn(ctx, attempt)
		if err == nil || llm.IsPermanent(err) {
			return attempt, err
		}
		if attempt == attempts {
			break
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return attempts, err
}
