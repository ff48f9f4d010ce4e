package voiceprint

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited bounds the call rate of an underlying Model. Extract blocks
// until a token is available or ctx is done.
type RateLimited struct {
	model   Model
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond calls per second with the given burst.
// A non-positive perSecond disables limiting.
func NewRateLimited(m Model, perSecond float64, burst int) *RateLimited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimited{model: m, limiter: rate.NewLimiter(limit, max(burst, 1))}
}

func (r *RateLimited) Extract(ctx context.Context, audio []byte) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.model.Extract(ctx, audio)
}

func (r *RateLimited) Dimension() int { return r.model.Dimension() }
