package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Limiter decides whether a caller may run another request in the current window
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// FixedWindow is an in-process fixed-window counter. Windows are aligned to
// multiples of the window length.
type FixedWindow struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets map[string]*bucket
}

type bucket struct {
	start time.Time
	count int
}

// NewFixedWindow allows limit requests per key per window
func NewFixedWindow(limit int, window time.Duration, now func() time.Time) *FixedWindow {
	if now == nil {
		now = time.Now
	}
	return &FixedWindow{
		limit:   limit,
		window:  window,
		now:     now,
		buckets: make(map[string]*bucket),
	}
}

func (f *FixedWindow) Allow(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := f.now().Truncate(f.window)
	b, ok := f.buckets[key]
	if !ok || !b.start.Equal(start) {
		b = &bucket{start: start}
		f.buckets[key] = b
		f.evict(start)
	}

	if b.count >= f.limit {
		return false, nil
	}
	b.count++
	return true, nil
}

// Reset forgets every counter
func (f *FixedWindow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets = make(map[string]*bucket)
}

// evict drops counters of past windows; called with the lock held
func (f *FixedWindow) evict(current time.Time) {
	for k, b := range f.buckets {
		if b.start.Before(current) {
			delete(f.buckets, k)
		}
	}
}

// Redis is a fixed-window counter shared by every API replica
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{
		client: client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:recompute:",
	}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := r.prefix + key

	// Increment counter
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, errors.Wrap(err, "rate limit incr")
	}

	// Set expiry on first request
	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, r.window).Err(); err != nil {
			log.Warn().Err(err).Str("key", redisKey).Msg("Failed to set rate limit expiry")
		}
	}

	return count <= int64(r.limit), nil
}
