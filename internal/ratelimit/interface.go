package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/intelligent-api-gateway/internal/gwerror"
)

type Algorithm string

const (
	AlgorithmFixedWindow Algorithm = "fixed_window"
	AlgorithmTokenBucket Algorithm = "token_bucket"
)

// Tier is a named rate limit policy.
type Tier struct {
	Name        string        `yaml:"name"`
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
	Algorithm   Algorithm     `yaml:"algorithm"`
}

func (t Tier) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tier name is required")
	}
	if t.Window <= 0 {
		return fmt.Errorf("tier %s: window must be positive", t.Name)
	}
	if t.MaxRequests <= 0 {
		return fmt.Errorf("tier %s: max_requests must be positive", t.Name)
	}
	switch t.Algorithm {
	case "", AlgorithmFixedWindow, AlgorithmTokenBucket:
		return nil
	default:
		return fmt.Errorf("tier %s: unknown algorithm %q", t.Name, t.Algorithm)
	}
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Err converts a rejection into the gateway's RateLimited error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return gwerror.RateLimited(d.RetryAfter)
}

type Limiter interface {
	// Allow counts one request for key under tier at now. A non-nil error
	// means the limiter could not decide; a rejection is reported through
	// the Decision.
	Allow(ctx context.Context, key string, tier Tier, now time.Time) (Decision, error)
}
