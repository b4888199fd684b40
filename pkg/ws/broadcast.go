package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	maxFanoutWorkers = 100
	fanoutTimeout    = 5 * time.Second
)

// BroadcastToRoom 向房间内本实例的成员广播
// 负载未通过校验时返回 false；有成员发送失败时返回 false 并计入丢弃指标
func (g *Gateway) BroadcastToRoom(ctx context.Context, roomID, event string, data any) bool {
	if err := g.validator.ValidateValue(data); err != nil {
		g.log.WarnContext(ctx, "broadcast payload rejected",
			zap.String("room_id", roomID), zap.String("event", event), zap.Error(err))
		return false
	}
	frame, err := encodePush(event, data, g.opts.now())
	if err != nil {
		g.log.WarnContext(ctx, "broadcast encode failed", zap.String("event", event), zap.Error(err))
		return false
	}

	members := g.rooms.Members(roomID)
	peers := make([]Peer, 0, len(members))
	for _, connID := range members {
		if e, ok := g.pool.Get(connID); ok {
			peers = append(peers, e.peer)
		}
	}
	return g.fanout(peers, frame) == 0
}

// BroadcastToAll 向本实例所有连接广播
func (g *Gateway) BroadcastToAll(ctx context.Context, event string, data any) bool {
	if err := g.validator.ValidateValue(data); err != nil {
		g.log.WarnContext(ctx, "broadcast payload rejected", zap.String("event", event), zap.Error(err))
		return false
	}
	frame, err := encodePush(event, data, g.opts.now())
	if err != nil {
		return false
	}

	peers := make([]Peer, 0, g.pool.Count())
	g.pool.Range(func(_ string, e *entry) bool {
		peers = append(peers, e.peer)
		return true
	})
	return g.fanout(peers, frame) == 0
}

// SendToConnection 向单个连接发送
func (g *Gateway) SendToConnection(connID, event string, data any) bool {
	e, ok := g.pool.Get(connID)
	if !ok {
		return false
	}
	frame, err := encodePush(event, data, g.opts.now())
	if err != nil {
		return false
	}
	if err := e.peer.Send(frame); err != nil {
		g.metrics.MessageDropped()
		return false
	}
	return true
}

// fanout 用有限数量的 worker 发送同一帧，返回失败数
func (g *Gateway) fanout(peers []Peer, frame []byte) int {
	if len(peers) == 0 {
		return 0
	}

	jobs := make(chan Peer, len(peers))
	for _, p := range peers {
		jobs <- p
	}
	close(jobs)

	ctx, cancel := context.WithTimeout(context.Background(), fanoutTimeout)
	defer cancel()

	var failed atomic.Int64
	var wg sync.WaitGroup
	for range min(len(peers), maxFanoutWorkers) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case p, ok := <-jobs:
					if !ok {
						return
					}
					if err := p.Send(frame); err != nil {
						failed.Add(1)
						g.metrics.MessageDropped()
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	wg.Wait()

	// 超时未处理的视为失败
	for range jobs {
		failed.Add(1)
		g.metrics.MessageDropped()
	}
	return int(failed.Load())
}
