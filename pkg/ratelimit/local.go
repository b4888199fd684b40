package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Local 进程内按 key 的令牌桶，空闲的桶会被回收
type Local struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocal 创建本地限流器，每秒 r 个令牌，容量 burst
func NewLocal(r float64, burst int, idle time.Duration) *Local {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &Local{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(r),
		burst:   burst,
		idle:    idle,
	}
}

// Limiter 返回 key 对应的令牌桶
func (l *Local) Limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

// Allow 消耗 key 的一个令牌
func (l *Local) Allow(key string) bool {
	return l.Limiter(key).Allow()
}

// Forget 删除 key 的令牌桶
func (l *Local) Forget(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// Len 当前令牌桶数量
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Cleanup 回收空闲超过 idle 的令牌桶，返回回收数量
func (l *Local) Cleanup() int {
	cutoff := time.Now().Add(-l.idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}

// Run 周期性回收，直到 ctx 取消
func (l *Local) Run(ctx context.Context) {
	ticker := time.NewTicker(l.idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}
