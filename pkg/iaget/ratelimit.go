// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimitSpacing  = 100 * time.Millisecond
	rateLimitPerMin   = 30
)

// rateLimiter is the process-wide gate every outbound request (metadata
// fetch, HEAD probe, or file chunk) passes through before it is sent (spec
// §4.9): a minimum spacing between any two requests, a rolling per-minute
// cap, and a server-directed pause when a response carries Retry-After.
type rateLimiter struct {
	spacing *rate.Limiter
	perMin  *rate.Limiter

	mu          sync.Mutex
	pausedUntil time.Time
}

// newRateLimiter builds the shared limiter. One instance is created per
// Request and shared by every goroutine the scheduler spawns.
func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		spacing: rate.NewLimiter(rate.Every(rateLimitSpacing), 1),
		perMin:  rate.NewLimiter(rate.Limit(float64(rateLimitPerMin)/60.0), rateLimitPerMin),
	}
}

// wait blocks until it is this caller's turn to send a request, honoring
// both the spacing gate and the per-minute cap, and any active
// server-directed pause. Calls are served in FIFO order by the underlying
// token buckets.
func (rl *rateLimiter) wait(ctx context.Context) error {
	rl.mu.Lock()
	until := rl.pausedUntil
	rl.mu.Unlock()
	if !until.IsZero() {
		if d := time.Until(until); d > 0 {
			if !sleepCtx(ctx, d) {
				return ctx.Err()
			}
		}
	}

	if err := rl.spacing.Wait(ctx); err != nil {
		return err
	}
	return rl.perMin.Wait(ctx)
}

// pauseFor suspends every future wait() call for d, used when a response
// carries a Retry-After header (spec §4.9, §6).
func (rl *rateLimiter) pauseFor(d time.Duration) {
	if d <= 0 {
		return
	}
	until := time.Now().Add(d)
	rl.mu.Lock()
	if until.After(rl.pausedUntil) {
		rl.pausedUntil = until
	}
	rl.mu.Unlock()
}
