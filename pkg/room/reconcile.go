package room

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Reconcile 用各实例的成员数心跳重算共享计数器
//
// 每个实例为其非空房间写入 room:inst:{room}:{instance}（TTL 为 3 个校准周期），
// 删除已清空房间的心跳，然后汇总房间的所有心跳覆盖 room:size:{room}。
// 崩溃实例的心跳随 TTL 过期，其遗留的计数也随之被修正。
func (r *Registry) Reconcile(ctx context.Context) error {
	counts := r.localCounts()
	hbTTL := 3 * r.config.ReconcileInterval

	r.hbMu.Lock()
	defer r.hbMu.Unlock()

	touched := make(map[string]struct{}, len(counts)+len(r.heartbeats))
	for roomID, n := range counts {
		touched[roomID] = struct{}{}
		key := InstanceKey(roomID, r.config.Instance)
		if err := r.store.Set(ctx, key, []byte(strconv.Itoa(n)), hbTTL); err != nil {
			return err
		}
		r.heartbeats[roomID] = struct{}{}
	}
	for roomID := range r.heartbeats {
		if _, live := counts[roomID]; live {
			continue
		}
		touched[roomID] = struct{}{}
		if err := r.store.Delete(ctx, InstanceKey(roomID, r.config.Instance)); err != nil {
			return err
		}
		delete(r.heartbeats, roomID)
	}

	for roomID := range touched {
		total, err := r.instanceTotal(ctx, roomID)
		if err != nil {
			return err
		}
		if err := r.store.Set(ctx, SizeKey(roomID), []byte(strconv.FormatInt(total, 10)), r.config.TTL); err != nil {
			return err
		}
	}
	return nil
}

// instanceTotal 汇总房间所有实例的心跳
func (r *Registry) instanceTotal(ctx context.Context, roomID string) (int64, error) {
	keys, err := r.store.Scan(ctx, InstanceKey(roomID, "*"))
	if err != nil {
		return 0, err
	}
	var total int64
	for _, key := range keys {
		n, err := readCount(ctx, r.store, key)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// RunReconcile 周期性校准，直到 ctx 取消
func (r *Registry) RunReconcile(ctx context.Context) error {
	if r.config.ReconcileInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			if err := r.Reconcile(ctx); err != nil {
				r.logger.WarnContext(ctx, "room reconcile failed", zap.Error(err))
				continue
			}
			r.logger.DebugContext(ctx, "room reconcile done", zap.Duration("took", time.Since(start)))
		}
	}
}

// Forget 删除本实例的全部心跳，用于优雅退出
func (r *Registry) Forget(ctx context.Context) error {
	r.hbMu.Lock()
	defer r.hbMu.Unlock()

	keys := make([]string, 0, len(r.heartbeats))
	for roomID := range r.heartbeats {
		keys = append(keys, InstanceKey(roomID, r.config.Instance))
	}
	r.heartbeats = make(map[string]struct{})
	if len(keys) == 0 {
		return nil
	}
	return r.store.Delete(ctx, keys...)
}
