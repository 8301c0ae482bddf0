package redisx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter bounds how often a keyed action may run inside a time window.
// Injected into handlers so the backing store is shared across instances
// and replaceable in tests.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type CounterLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewCounterLimiter(rdb *redis.Client, prefix string, limit int, window time.Duration) *CounterLimiter {
	return &CounterLimiter{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

func (l *CounterLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if key == "" {
		key = "anonymous"
	}
	k := fmt.Sprintf(l.prefix, key)
	n, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, k, l.window).Err(); err != nil {
			return false, err
		}
	}
	return n <= int64(l.limit), nil
}

// MemoryLimiter is the in-process equivalent used in tests and local runs
// without Redis.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu    sync.Mutex
	store map[string]memoryEntry
}

type memoryEntry struct {
	count int
	reset time.Time
}

func NewMemoryLimiter(limit int, window time.Duration, clock func() time.Time) *MemoryLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]memoryEntry),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.store[key]
	if !ok || now.After(e.reset) {
		l.store[key] = memoryEntry{count: 1, reset: now.Add(l.window)}
		for k, v := range l.store {
			if now.After(v.reset) {
				delete(l.store, k)
			}
		}
		return true, nil
	}
	if e.count >= l.limit {
		return false, nil
	}
	e.count++
	l.store[key] = e
	return true, nil
}

// Reset clears all counters. Test hook.
func (l *MemoryLimiter) Reset() {
	l.mu.Lock()
	l.store = make(map[string]memoryEntry)
	l.mu.Unlock()
}
