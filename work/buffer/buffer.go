// Package buffer keeps a pool of fixed-size byte slices used when copying
// segment bodies downstream, so the hot path never allocates per request.
package buffer

import "sync"

// Pool hands out reusable copy buffers of a single size.
type Pool struct {
	size int
	pool sync.Pool
}

// NewPool creates a pool of buffers of sizeKB kilobytes each. Sizes that
// are zero or negative fall back to 64KB.
func NewPool(sizeKB int) *Pool {
	if sizeKB <= 0 {
		sizeKB = 64
	}
	size := sizeKB * 1024
	return &Pool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Get returns a buffer from the pool.
func (p *Pool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool. Buffers of the wrong size are dropped.
func (p *Pool) Put(b *[]byte) {
	if b == nil || len(*b) != p.size {
		return
	}
	p.pool.Put(b)
}

// Size reports the buffer size in bytes.
func (p *Pool) Size() int {
	return p.size
}
