package binance

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Endpoint request weights (GET /api/v3/..., spot)
const (
	WeightTicker24hAll  = 80
	WeightTickerPrice   = 2
	WeightKlines        = 2
	WeightAccount       = 20
	WeightOrder         = 1
	WeightExchangeInfo  = 20
	WeightServerTime    = 1
	binanceWeightPerMin = 6000
)

// RateLimiter spends request weight from a per-minute budget
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing weightPerMinute (capped at the exchange limit)
func NewRateLimiter(weightPerMinute int) *RateLimiter {
	if weightPerMinute <= 0 || weightPerMinute > binanceWeightPerMin {
		weightPerMinute = binanceWeightPerMin / 2
	}
	perSecond := rate.Limit(float64(weightPerMinute) / 60)
	// burst must fit the heaviest single call
	burst := weightPerMinute / 10
	if burst < WeightTicker24hAll {
		burst = WeightTicker24hAll
	}
	return &RateLimiter{limiter: rate.NewLimiter(perSecond, burst)}
}

// Wait blocks until weight is available or ctx ends
func (r *RateLimiter) Wait(ctx context.Context, weight int) error {
	if err := r.limiter.WaitN(ctx, weight); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
