// Package bufpool recycles the fixed-size byte buffers that carry datagram
// payloads through the emulator, bounding allocation under sustained
// traffic. Every buffer handed out has exactly wire.MessageLength bytes of
// capacity; callers must Release exactly once per Acquire.
package bufpool

import (
	"sync"
	"sync/atomic"

	"github.com/cutiedeng/netsim/internal/wire"
)

// Pool recycles reusable byte buffers. It is built on sync.Pool rather
// than a hand-rolled slice stack because sync.Pool already gives per-P
// free lists and lets the GC reclaim buffers under memory pressure. It
// takes no mutex of its own, and it does not guarantee LIFO order: which
// released buffer a later Acquire gets back is up to sync.Pool, and pooled
// buffers may be discarded by the GC. We still expose the narrow
// Acquire/Release shape instead of sync.Pool's Get/Put directly, so a
// buffer of the wrong size is never put back into the pool.
type Pool struct {
	sp        sync.Pool
	allocated atomic.Int64
}

// New returns a ready-to-use Pool.
func New() *Pool {
	p := &Pool{}
	p.sp.New = func() any {
		p.allocated.Add(1)
		return make([]byte, wire.MessageLength)
	}
	return p
}

// Acquire pops a buffer from the pool, allocating a new zeroed one if the
// pool is empty. The returned slice always has length and capacity
// wire.MessageLength.
func (p *Pool) Acquire() []byte {
	buf := p.sp.Get().([]byte)
	return buf[:wire.MessageLength]
}

// Release returns buf to the pool. Idempotence is not guaranteed or
// required; callers must release exactly once per Acquire (spec §4.2).
// Buffers of the wrong capacity are dropped rather than pooled, since
// pooling them would violate the "pool holds only buffers of exactly
// MESSAGE_LENGTH" invariant (spec §3).
func (p *Pool) Release(buf []byte) {
	if cap(buf) != wire.MessageLength {
		return
	}
	p.sp.Put(buf[:wire.MessageLength])
}

// Allocated returns the total number of buffers ever allocated by this
// pool, for tests asserting buffer-conservation (spec §8 property 1).
func (p *Pool) Allocated() int64 {
	return p.allocated.Load()
}
