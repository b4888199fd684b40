package ws

import (
	"sync"
	"sync/atomic"

	"github.com/tokmz/relay/pkg/errors"
)

// Peer 传输层端点
type Peer interface {
	// Send 非阻塞发送一帧
	Send(data []byte) error
	// Close 以给定关闭码结束连接，可重复调用
	Close(code int, reason string)
}

// Identity 请求者身份
type Identity struct {
	UserID string
	Roles  []string
}

// entry 已注册的连接
type entry struct {
	peer     Peer
	identity Identity
}

// connectionPool 本实例持有的连接
type connectionPool struct {
	peers    sync.Map // connID -> *entry
	count    atomic.Int64
	maxConns int
}

func newConnectionPool(maxConns int) *connectionPool {
	return &connectionPool{maxConns: maxConns}
}

// Add 注册连接，超过上限时返回 ErrOverloaded
func (p *connectionPool) Add(connID string, e *entry) error {
	if _, loaded := p.peers.LoadOrStore(connID, e); loaded {
		return ErrConnectionExists
	}
	if n := p.count.Add(1); int(n) > p.maxConns {
		p.count.Add(-1)
		p.peers.Delete(connID)
		return errors.ErrOverloaded
	}
	return nil
}

// Remove 注销连接，返回被移除的条目
func (p *connectionPool) Remove(connID string) (*entry, bool) {
	v, loaded := p.peers.LoadAndDelete(connID)
	if !loaded {
		return nil, false
	}
	p.count.Add(-1)
	return v.(*entry), true
}

// Get 查找连接
func (p *connectionPool) Get(connID string) (*entry, bool) {
	v, ok := p.peers.Load(connID)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// Full 已达上限
func (p *connectionPool) Full() bool {
	return int(p.count.Load()) >= p.maxConns
}

// Count 连接数
func (p *connectionPool) Count() int {
	return int(p.count.Load())
}

// Range 遍历连接
func (p *connectionPool) Range(f func(connID string, e *entry) bool) {
	p.peers.Range(func(k, v any) bool {
		return f(k.(string), v.(*entry))
	})
}
