package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Store decides whether one more request from key fits the configured budget.
type Store interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Memory keeps a token bucket per key. Suitable for a single instance. A bucket idle
// for a full refill period is indistinguishable from a new one, so it is dropped.
type Memory struct {
	mu        sync.Mutex
	limiters  map[string]*bucket
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	maxKeys   int
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const defaultMaxKeys = 100_000

func NewMemory(perMinute int) *Memory {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &Memory{
		limiters:  make(map[string]*bucket),
		limit:     rate.Every(time.Minute / time.Duration(perMinute)),
		burst:     perMinute,
		idleAfter: time.Minute,
		maxKeys:   defaultMaxKeys,
		now:       time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	now := m.now()
	if now.Sub(m.lastSweep) >= m.idleAfter || len(m.limiters) >= m.maxKeys {
		m.sweep(now)
	}
	b, ok := m.limiters[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.limiters[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	m.mu.Unlock()
	return allowed, nil
}

// sweep drops idle buckets. Callers hold mu.
func (m *Memory) sweep(now time.Time) {
	m.lastSweep = now
	for key, b := range m.limiters {
		if now.Sub(b.lastSeen) >= m.idleAfter {
			delete(m.limiters, key)
		}
	}
}

// Redis is a fixed-window counter shared by every instance pointed at the same server.
type Redis struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	prefix string
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func NewRedis(rdb redis.Scripter, perMinute int, prefix string) *Redis {
	if perMinute <= 0 {
		perMinute = 60
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	return &Redis{rdb: rdb, limit: perMinute, window: time.Minute, prefix: prefix}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	res, err := fixedWindowScript.Run(ctx, r.rdb, []string{r.prefix + ":" + key}, r.window.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	var count int64
	switch v := res.(type) {
	case int64:
		count = v
	case string:
		count, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("unexpected redis script result type %T", res)
	}
	return count <= int64(r.limit), nil
}
