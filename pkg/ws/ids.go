package ws

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
)

const (
	retiredCapacity = 1_000_000
	retiredFPRate   = 1e-7
	// 两代过滤器的误报率都有上限，超过次数说明生成器本身在重复
	maxIDTries = 16
)

// idSource 生成连接 ID，并记住已终止的 ID
//
// 布隆过滤器只会误报，误报时重新生成，因此终止过的 ID 不会被再次分配。
// 当前一代写满 capacity 后整体降为上一代，只保留两代，误报率不会随连接总数上升。
// 更早的 ID 依赖 UUIDv4 的随机性保证不重复。
type idSource struct {
	mu       sync.Mutex
	capacity uint
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	gen      func() string
}

func newIDSource(gen func() string) *idSource {
	return newIDSourceSized(gen, retiredCapacity)
}

func newIDSourceSized(gen func() string, capacity uint) *idSource {
	if gen == nil {
		gen = uuid.NewString
	}
	return &idSource{
		capacity: capacity,
		current:  bloom.NewWithEstimates(capacity, retiredFPRate),
		gen:      gen,
	}
}

// Next 生成一个未被终止过的 ID，最多尝试 maxIDTries 次
func (s *idSource) Next() string {
	id := s.gen()
	for i := 1; i < maxIDTries && s.Retired(id); i++ {
		id = s.gen()
	}
	return id
}

// Retire 标记 ID 已终止
func (s *idSource) Retire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.ApproximatedSize() >= uint32(s.capacity) {
		s.previous = s.current
		s.current = bloom.NewWithEstimates(s.capacity, retiredFPRate)
	}
	s.current.AddString(id)
}

// Retired 可能已终止
func (s *idSource) Retired(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.TestString(id) {
		return true
	}
	return s.previous != nil && s.previous.TestString(id)
}
