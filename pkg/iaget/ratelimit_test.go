// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package iaget

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterSpacing(t *testing.T) {
	rl := newRateLimiter()
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	elapsed := time.Since(start)
	if elapsed < 2*rateLimitSpacing {
		t.Fatalf("expected at least %v between 3 requests, took %v", 2*rateLimitSpacing, elapsed)
	}
}

func TestRateLimiterPauseFor(t *testing.T) {
	rl := newRateLimiter()
	rl.pauseFor(50 * time.Millisecond)

	ctx := context.Background()
	start := time.Now()
	if err := rl.wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("expected wait to honor the active pause")
	}
}

func TestRateLimiterCancelledContext(t *testing.T) {
	rl := newRateLimiter()
	rl.pauseFor(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := rl.wait(ctx); err == nil {
		t.Fatal("expected wait to return an error once the context expires")
	}
}
