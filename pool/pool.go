// File: pool/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded LIFO buffer pool for per-operation read/write buffers. Recycling
// here is a pure performance optimization; correctness never depends on it.

package pool

import "sync"

// DefaultBufferSize is the capacity of freshly allocated buffers. 4 KiB
// matches the kernel's default named-pipe buffer quota.
const DefaultBufferSize = 4 * 1024

// Pool recycles byte buffers. The pool never holds more than its configured
// capacity; surplus buffers are dropped for the GC.
type Pool struct {
	mu      sync.Mutex
	bufs    [][]byte
	max     int
	bufSize int
}

// New creates a pool bounded to capacity buffers of bufSize bytes each.
// Non-positive arguments fall back to defaults.
func New(capacity, bufSize int) *Pool {
	if capacity <= 0 {
		capacity = 8
	}
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Pool{
		bufs:    make([][]byte, 0, capacity),
		max:     capacity,
		bufSize: bufSize,
	}
}

// Get returns an empty buffer with at least the pool's buffer capacity.
func (p *Pool) Get() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.bufs); n > 0 {
		buf := p.bufs[n-1]
		p.bufs = p.bufs[:n-1]
		return buf
	}
	return make([]byte, 0, p.bufSize)
}

// Put returns buf to the pool, truncated to zero length. Buffers beyond the
// pool bound are discarded.
func (p *Pool) Put(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.bufs) < p.max {
		p.bufs = append(p.bufs, buf[:0])
	}
}

// Len reports how many buffers the pool currently holds.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bufs)
}
