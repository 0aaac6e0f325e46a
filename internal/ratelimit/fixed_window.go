package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithExpiry counts a hit and arms the window's expiry on first use,
// in one round trip so the counter and its TTL cannot drift apart.
var incrWithExpiry = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter caps hits per key in fixed time windows, backed by
// Redis so the cap holds across replicas. The vote and predict endpoints
// sit behind one instance each, keyed by client address.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	client *redis.Client
	prefix string
}

// NewRedisFixedWindowLimiter creates a Redis-backed limiter.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "flavorsnap:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: prefix,
	}, nil
}

// Allow reports whether the key has quota left in the current window.
// An unreachable Redis blocks the request rather than opening the gate.
func (l *FixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return false
	}
	windowMs := l.window.Milliseconds()
	if windowMs <= 0 {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	count, err := incrWithExpiry.Run(ctx, l.client, []string{l.windowKey(key, windowMs)}, windowMs).Int64()
	if err != nil {
		return false
	}
	return count <= int64(l.limit)
}

// windowKey names the counter for the key's current window slot.
func (l *FixedWindowLimiter) windowKey(key string, windowMs int64) string {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	slot := time.Now().UTC().UnixMilli() / windowMs
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
}
