//go:build integration

package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/velmie/reliable/internal/testutil"
	"github.com/velmie/reliable/ratelimit"
	"github.com/velmie/reliable/redis"
)

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	ctx := context.Background()
	addr := testutil.StartRedisContainer(t, ctx)

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	store, err := redis.NewCounterStore(client)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	limiter := ratelimit.NewLimiter(store)
	req := ratelimit.Request{ActorID: "U1", Resource: "burst", Limit: 50, Window: 24 * time.Hour}

	const callers = 100
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.CheckAndIncrement(ctx, req)
			if err != nil {
				t.Errorf("check: %v", err)
				return
			}
			if decision.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Fatalf("allowed = %d, want 50", allowed)
	}
}
