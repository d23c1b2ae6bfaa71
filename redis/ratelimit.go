package redis

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/velmie/reliable/ratelimit"
)

const defaultKeyPrefix = "ratelimit:"

// ErrClientRequired is returned when a nil client is provided.
var ErrClientRequired = errors.New("reliable redis: client is required")

// Option configures a CounterStore.
type Option func(*CounterStore)

// WithKeyPrefix sets the namespace for counter keys.
func WithKeyPrefix(prefix string) Option {
	return func(s *CounterStore) {
		s.prefix = prefix
	}
}

// CounterStore implements ratelimit.CounterStore on Redis.
type CounterStore struct {
	client goredis.UniversalClient
	prefix string
}

var _ ratelimit.CounterStore = (*CounterStore)(nil)

// NewCounterStore returns a store over client. Standalone, sentinel and cluster clients all work.
func NewCounterStore(client goredis.UniversalClient, opts ...Option) (*CounterStore, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	s := &CounterStore{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Increment adds by to the window counter and returns the new value.
func (s *CounterStore) Increment(ctx context.Context, key ratelimit.CounterKey, by int64, expiresAt time.Time) (int64, error) {
	k := s.Key(key)

	pipe := s.client.TxPipeline()
	incr := pipe.IncrBy(ctx, k, by)
	pipe.ExpireAt(ctx, k, expiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("reliable redis: counter increment failed: %w", err)
	}

	return incr.Val(), nil
}

// Prune is a no-op; counters expire through their TTL.
func (*CounterStore) Prune(context.Context, time.Time, int) (int64, error) {
	return 0, nil
}

// Key renders the Redis key for a counter. Parts are escaped so ':' in ids cannot collide.
func (s *CounterStore) Key(key ratelimit.CounterKey) string {
	return s.prefix +
		url.QueryEscape(key.ActorID) + ":" +
		url.QueryEscape(key.Resource) + ":" +
		strconv.FormatInt(key.WindowStart.UnixMilli(), 10)
}
