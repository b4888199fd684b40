package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/job"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/metrics"
	"github.com/tokmz/relay/pkg/ratelimit"
	"github.com/tokmz/relay/pkg/store"
	"github.com/tokmz/relay/pkg/ws"
)

// maintenance 进程内定时维护任务
type maintenance struct {
	gw      *ws.Gateway
	st      store.Store
	limiter *ratelimit.Local // HTTP 限流未启用时为 nil
	metrics *metrics.Collector
	log     logger.Logger
}

// funcs 任务名到执行函数
func (m *maintenance) funcs() map[string]job.Func {
	return map[string]job.Func{
		"stats":        m.stats,
		"limiter_gc":   m.limiterGC,
		"store_health": m.storeHealth,
	}
}

// register 按配置注册任务，表达式为空的任务不运行
func (m *maintenance) register(s *job.Scheduler, schedules map[string]string) error {
	funcs := m.funcs()
	for name, spec := range schedules {
		run, ok := funcs[name]
		if !ok {
			known := make([]string, 0, len(funcs))
			for k := range funcs {
				known = append(known, k)
			}
			slices.Sort(known)
			return fmt.Errorf("%w: unknown job %q (known: %s)", job.ErrInvalidJob, name, strings.Join(known, ", "))
		}
		if spec == "" {
			continue
		}
		if err := s.Add(job.Job{Name: name, Spec: spec, Run: run}); err != nil {
			return err
		}
	}
	return nil
}

// stats 输出本实例连接与房间概况
func (m *maintenance) stats(ctx context.Context) error {
	rooms := m.gw.Rooms().Rooms()
	m.metrics.SetRoomCount(len(rooms))
	m.log.InfoContext(ctx, "gateway stats",
		zap.Int("connections", m.gw.ConnectionCount()),
		zap.Int("rooms", len(rooms)),
		zap.Int64("dropped_events", m.gw.DroppedEvents()),
	)
	return nil
}

// limiterGC 回收空闲的 HTTP 限流桶
func (m *maintenance) limiterGC(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}
	if n := m.limiter.Cleanup(); n > 0 {
		m.log.DebugContext(ctx, "http limiter buckets reclaimed", zap.Int("count", n), zap.Int("remaining", m.limiter.Len()))
	}
	return nil
}

// storeHealth 探测共享存储
func (m *maintenance) storeHealth(ctx context.Context) error {
	if err := m.st.Ping(ctx); err != nil {
		m.metrics.StoreError("ping")
		return err
	}
	return nil
}
