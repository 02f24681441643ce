//go:build integration

package cache

import (
	"context"
	"testing"

	"github.com/tessera/tessera/internal/testutil"
)

func TestIntegrationLoginRateLimit_ExhaustsBurst(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	c, err := New(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := testutil.FlushRedis(ctx, c.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	const burst = 3
	for i := 0; i < burst; i++ {
		res, err := c.CheckLoginRateLimit(ctx, "198.51.100.1", 1, burst)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("attempt %d should be allowed", i)
		}
	}

	res, err := c.CheckLoginRateLimit(ctx, "198.51.100.1", 1, burst)
	if err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	if res.Allowed {
		t.Error("attempt past burst should be rejected")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", res.RetryAfter)
	}

	other, err := c.CheckLoginRateLimit(ctx, "198.51.100.2", 1, burst)
	if err != nil {
		t.Fatalf("other ip: %v", err)
	}
	if !other.Allowed {
		t.Error("a different IP should have its own bucket")
	}
}
