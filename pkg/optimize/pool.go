// Package optimize holds allocation helpers for the RTP hot path.
package optimize

import (
	"sync"
)

// BytePool is a pool of fixed-size byte slices. The broadcaster producer
// reuses one buffer per read instead of allocating per packet.
type BytePool struct {
	pool sync.Pool
	size int
}

// NewBytePool creates a new byte pool with the given slice size.
func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
	}
}

// Get gets a byte slice from the pool.
func (p *BytePool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns a byte slice to the pool. Slices smaller than the pool size
// are dropped rather than recycled.
func (p *BytePool) Put(b []byte) {
	if cap(b) >= p.size {
		p.pool.Put(b[:p.size])
	}
}
