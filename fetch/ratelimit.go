package fetch

import (
	"context"
	"math/rand"
	"time"
)

// RateLimiter sleeps a uniform random interval between product-detail
// fetches so a walk does not hammer a site at connection speed.
type RateLimiter struct {
	Min time.Duration
	Max time.Duration
}

// NewRateLimiter builds a limiter with the historical 1.0–2.5s window when
// bounds are unset or inverted.
func NewRateLimiter(min, max time.Duration) *RateLimiter {
	if min <= 0 || max < min {
		min, max = time.Second, 2500*time.Millisecond
	}
	return &RateLimiter{Min: min, Max: max}
}

// Wait blocks for the next interval or until ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	span := r.Max - r.Min
	d := r.Min
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
