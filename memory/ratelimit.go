package memory

import (
	"context"
	"sync"
	"time"

	"github.com/velmie/reliable/ratelimit"
)

type counterKey struct {
	actorID  string
	resource string
	window   int64
}

type counter struct {
	value     int64
	expiresAt time.Time
}

// CounterStore is an in-memory ratelimit.CounterStore.
type CounterStore struct {
	mu       sync.Mutex
	counters map[counterKey]*counter
}

var _ ratelimit.CounterStore = (*CounterStore)(nil)

// NewCounterStore returns an empty store.
func NewCounterStore() *CounterStore {
	return &CounterStore{counters: make(map[counterKey]*counter)}
}

// Increment implements ratelimit.CounterStore.
func (s *CounterStore) Increment(ctx context.Context, key ratelimit.CounterKey, by int64, expiresAt time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	k := counterKey{actorID: key.ActorID, resource: key.Resource, window: key.WindowStart.UnixMilli()}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[k]
	if !ok {
		c = &counter{expiresAt: expiresAt}
		s.counters[k] = c
	}
	c.value += by

	return c.value, nil
}

// Prune implements ratelimit.CounterStore.
func (s *CounterStore) Prune(ctx context.Context, now time.Time, limit int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, c := range s.counters {
		if limit > 0 && n == int64(limit) {
			break
		}
		if !c.expiresAt.After(now) {
			delete(s.counters, k)
			n++
		}
	}

	return n, nil
}

// Len returns the number of stored counters.
func (s *CounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.counters)
}
