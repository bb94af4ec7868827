// Package ratewindow provides a sliding-window Admitter shared between
// processes through Redis.
package ratewindow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/pagespeed/internal/domain/ratelimit"
	"github.com/redis/go-redis/v9"
)

// ErrStore wraps failures talking to Redis.
var ErrStore = errors.New("rate window store failed")

// admitScript purges, counts and conditionally adds in one round trip so that
// concurrent instances cannot both take the last slot.
//
// KEYS[1] window key
// ARGV[1] now (unix ms), ARGV[2] window (ms), ARGV[3] max, ARGV[4] member
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= max then
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisWindow is a ratelimit.Admitter backed by a Redis sorted set whose
// scores are admission times in unix milliseconds.
type RedisWindow struct {
	rdb    redis.UniversalClient
	key    string
	window time.Duration
	max    int
	now    func() time.Time
}

var (
	_ ratelimit.Admitter      = (*RedisWindow)(nil)
	_ ratelimit.StatsReporter = (*RedisWindow)(nil)
)

// Option applies a configuration option to the RedisWindow.
type Option func(*RedisWindow)

// WithKey sets the sorted-set key.
func WithKey(key string) Option {
	return func(w *RedisWindow) {
		if k := strings.TrimSpace(key); k != "" {
			w.key = k
		}
	}
}

// WithWindow sets the trailing interval length.
func WithWindow(d time.Duration) Option {
	return func(w *RedisWindow) {
		if d > 0 {
			w.window = d
		}
	}
}

// WithMaxRequests sets how many admissions fit in one window.
func WithMaxRequests(n int) Option {
	return func(w *RedisWindow) {
		if n > 0 {
			w.max = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *RedisWindow) {
		if now != nil {
			w.now = now
		}
	}
}

// NewRedisWindow creates a shared window on rdb.
func NewRedisWindow(rdb redis.UniversalClient, opts ...Option) *RedisWindow {
	w := &RedisWindow{
		rdb:    rdb,
		key:    "pagespeed:ratewindow",
		window: ratelimit.DefaultWindow,
		max:    ratelimit.DefaultMaxRequests,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// TryAdmit follows ratelimit.Window semantics: entries with now-ts >= window
// are purged, and a denied call records nothing.
func (w *RedisWindow) TryAdmit(ctx context.Context) (bool, error) {
	now := w.now().UnixMilli()
	// Members must be unique; two admissions in the same millisecond are distinct slots.
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())
	res, err := admitScript.Run(ctx, w.rdb, []string{w.key},
		now, w.window.Milliseconds(), w.max, member).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return res == 1, nil
}

// Stats reports the current in-window count.
func (w *RedisWindow) Stats(ctx context.Context) (ratelimit.Stats, error) {
	now := w.now().UnixMilli()
	floor := fmt.Sprintf("(%d", now-w.window.Milliseconds())
	n, err := w.rdb.ZCount(ctx, w.key, floor, "+inf").Result()
	if err != nil {
		return ratelimit.Stats{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return ratelimit.Stats{InWindow: int(n), Max: w.max, WindowMs: w.window.Milliseconds()}, nil
}

// Ping checks connectivity.
func (w *RedisWindow) Ping(ctx context.Context) error {
	if err := w.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}

// Close closes the underlying client.
func (w *RedisWindow) Close() error {
	return w.rdb.Close()
}
