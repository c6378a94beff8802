package hardware

import (
	"sync"
	"sync/atomic"
)

// CapturePool recycles driver-owned capture buffers so the zero-copy
// hand-off path does not allocate per sweep point. Buffers handed off
// through an event payload come back via Put once the processing pass is
// done with them.
type CapturePool struct {
	pool sync.Pool
	size int

	hits   int64
	misses int64
}

// NewCapturePool creates a pool of complex-sample buffers of the given
// length.
func NewCapturePool(size int) *CapturePool {
	if size <= 0 {
		size = 1024
	}
	p := &CapturePool{size: size}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.misses, 1)
		return make([]complex128, size)
	}
	return p
}

// Get returns a buffer of the pool's capture size.
func (p *CapturePool) Get() []complex128 {
	buf := p.pool.Get().([]complex128)
	atomic.AddInt64(&p.hits, 1)
	return buf[:p.size]
}

// Put zeroes a buffer and returns it for reuse. Wrong-sized buffers are
// dropped rather than poisoning the pool.
func (p *CapturePool) Put(buf []complex128) {
	if cap(buf) < p.size {
		return
	}
	buf = buf[:p.size]
	for i := range buf {
		buf[i] = 0
	}
	p.pool.Put(buf)
}

// Stats returns how often Get was served and how often a fresh allocation
// was needed.
func (p *CapturePool) Stats() (gets, allocs int64) {
	return atomic.LoadInt64(&p.hits), atomic.LoadInt64(&p.misses)
}
