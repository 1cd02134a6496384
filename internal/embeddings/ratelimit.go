package embeddings

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to an underlying Provider.
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps p so that at most rps calls per second are made,
// with the given burst. A burst below 1 is treated as 1.
func NewRateLimited(p Provider, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Embed waits for a limiter token, then delegates.
func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return r.Provider.Embed(ctx, text)
}
