// Package ratelimit holds the process-wide gate on outbound upstream requests.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter admits at most one request per interval in steady state. Burst
// lets a caller catch up after idle periods without raising the long-run rate.
type Limiter struct {
	lim *rate.Limiter
}

// New returns a limiter; interval <= 0 disables limiting.
func New(interval time.Duration, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if interval <= 0 {
		return &Limiter{lim: rate.NewLimiter(rate.Inf, burst)}
	}
	return &Limiter{lim: rate.NewLimiter(rate.Every(interval), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.lim.Wait(ctx)
}
