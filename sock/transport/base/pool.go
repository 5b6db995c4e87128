package base

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/dNet/sock/common"
)

// ContextPool is a bounded free list of ClientContexts plus a parallel free list of io
// regions. All regions are slices of one backing array allocated up front, so the memory
// of the read path is fixed no matter how many connections are attempted.
// Get fails with common.ErrPoolExhausted once capacity contexts are outstanding.
type ContextPool struct {
	mu          sync.Mutex
	conf        common.ConnConf
	capacity    int
	arena       []byte
	freeSlots   []int
	free        []*ClientContext
	outstanding int
}

// NewContextPool creates a pool for up to capacity concurrent connections
func NewContextPool(capacity int, conf common.ConnConf) *ContextPool {
	p := &ContextPool{
		conf:      conf,
		capacity:  capacity,
		arena:     make([]byte, capacity*conf.IOBufferSize),
		freeSlots: make([]int, capacity),
	}
	// pop from the end, hand out slot 0 first
	for i := range p.freeSlots {
		p.freeSlots[i] = capacity - 1 - i
	}
	return p
}

// Get returns a context with an io region attached
func (p *ContextPool) Get() (*ClientContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.outstanding >= p.capacity || len(p.freeSlots) == 0 {
		return nil, fmt.Errorf("%w: %d of %d in use", common.ErrPoolExhausted, p.outstanding, p.capacity)
	}

	slot := p.freeSlots[len(p.freeSlots)-1]
	p.freeSlots = p.freeSlots[:len(p.freeSlots)-1]

	var ctx *ClientContext
	if n := len(p.free); n > 0 {
		ctx = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
	} else {
		ctx = newClientContext(p.conf)
	}

	size := p.conf.IOBufferSize
	ctx.slot = slot
	ctx.ioBuf = p.arena[slot*size : (slot+1)*size : (slot+1)*size]
	p.outstanding++
	return ctx, nil
}

// Put resets ctx and returns it to the pool. Putting a context twice is a no-op.
func (p *ContextPool) Put(ctx *ClientContext) {
	if ctx == nil {
		return
	}
	ctx.reset()

	p.mu.Lock()
	defer p.mu.Unlock()

	if ctx.slot < 0 {
		return
	}
	p.freeSlots = append(p.freeSlots, ctx.slot)
	ctx.slot = -1
	ctx.ioBuf = nil
	p.free = append(p.free, ctx)
	p.outstanding--
}

// Outstanding returns the number of contexts currently in use
func (p *ContextPool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// Capacity returns the maximum number of outstanding contexts
func (p *ContextPool) Capacity() int {
	return p.capacity
}

// Clear drops the free contexts so their buffers can be collected.
// Outstanding contexts are not affected.
func (p *ContextPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.free {
		p.free[i] = nil
	}
	p.free = p.free[:0]
}
