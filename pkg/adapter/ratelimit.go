package adapter

import (
	"context"
	"time"

	"github.com/zen-systems/viewforge/pkg/artifact"
	"golang.org/x/time/rate"
)

// RateLimited spaces calls to a wrapped generator. Remote image models are
// billed per call and throttle bursts.
type RateLimited struct {
	next    ImageGenerator
	limiter *rate.Limiter
}

// NewRateLimited allows one call per interval with the given burst. A
// non-positive interval disables limiting.
func NewRateLimited(next ImageGenerator, interval time.Duration, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Name returns the wrapped adapter's identifier.
func (r *RateLimited) Name() string {
	return r.next.Name()
}

// Models returns the wrapped adapter's models.
func (r *RateLimited) Models() []string {
	return r.next.Models()
}

// Generate waits for a token, then delegates.
func (r *RateLimited) Generate(ctx context.Context, prompt string, source *artifact.Artifact) (*artifact.Artifact, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, transportError(r.next.Name(), err)
	}
	return r.next.Generate(ctx, prompt, source)
}
