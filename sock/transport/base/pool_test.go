package base

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/ValentinKolb/dNet/sock/common"
	"github.com/ValentinKolb/dNet/sock/transport"
)

func testConnConf() common.ConnConf {
	conf := common.DefaultConnConf()
	conf.IOBufferSize = 64
	return conf
}

// TestPoolExhaustion verifies that Get fails once all contexts are outstanding
func TestPoolExhaustion(t *testing.T) {
	p := NewContextPool(3, testConnConf())

	ctxs := make([]*ClientContext, 0, 3)
	for i := 0; i < 3; i++ {
		ctx, err := p.Get()
		if err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
		ctxs = append(ctxs, ctx)
	}

	if _, err := p.Get(); !errors.Is(err, common.ErrPoolExhausted) {
		t.Fatalf("Expected ErrPoolExhausted, got %v", err)
	}
	if p.Outstanding() != 3 {
		t.Errorf("Expected 3 outstanding, got %d", p.Outstanding())
	}

	p.Put(ctxs[1])
	if _, err := p.Get(); err != nil {
		t.Fatalf("Get after Put failed: %v", err)
	}
}

// TestPoolRegions verifies that outstanding contexts never share an io region
func TestPoolRegions(t *testing.T) {
	conf := testConnConf()
	p := NewContextPool(4, conf)

	slots := make(map[int]bool)
	var ctxs []*ClientContext
	for i := 0; i < 4; i++ {
		ctx, _ := p.Get()
		if len(ctx.ioBuf) != conf.IOBufferSize || cap(ctx.ioBuf) != conf.IOBufferSize {
			t.Fatalf("Unexpected io region size %d/%d", len(ctx.ioBuf), cap(ctx.ioBuf))
		}
		if slots[ctx.slot] {
			t.Fatalf("Slot %d handed out twice", ctx.slot)
		}
		slots[ctx.slot] = true
		ctxs = append(ctxs, ctx)
	}

	// writes to one region must not be visible in another
	for i, ctx := range ctxs {
		for n := range ctx.ioBuf {
			ctx.ioBuf[n] = byte(i + 1)
		}
	}
	for i, ctx := range ctxs {
		for _, b := range ctx.ioBuf {
			if b != byte(i+1) {
				t.Fatalf("Region of context %d was overwritten", i)
			}
		}
	}
}

// TestPoolConservation verifies that Get and Put balance under concurrency
// and that a double Put is ignored
func TestPoolConservation(t *testing.T) {
	p := NewContextPool(8, testConnConf())

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				ctx, err := p.Get()
				if err != nil {
					continue
				}
				p.Put(ctx)
			}
		}()
	}
	wg.Wait()

	if p.Outstanding() != 0 {
		t.Fatalf("Expected 0 outstanding, got %d", p.Outstanding())
	}

	ctx, _ := p.Get()
	p.Put(ctx)
	p.Put(ctx)
	if p.Outstanding() != 0 {
		t.Fatalf("Double put changed the count to %d", p.Outstanding())
	}
	for i := 0; i < 8; i++ {
		if _, err := p.Get(); err != nil {
			t.Fatalf("Get %d failed after double put: %v", i, err)
		}
	}
	if _, err := p.Get(); !errors.Is(err, common.ErrPoolExhausted) {
		t.Fatalf("Double put must not add capacity, got %v", err)
	}
}

// TestContextReuse verifies that a recycled context does not accept operations for its old id
func TestContextReuse(t *testing.T) {
	p := NewContextPool(1, testConnConf())

	a, b := net.Pipe()
	defer b.Close()

	ctx, _ := p.Get()
	ctx.attach(1, 0, a)
	if !ctx.matches(1) || ctx.Status() != transport.StatusConnected {
		t.Fatalf("Context not attached")
	}
	if !ctx.setTag(1, "first") {
		t.Fatalf("Failed to set tag")
	}

	if !ctx.close(1) {
		t.Fatalf("First close should succeed")
	}
	if ctx.close(1) {
		t.Fatalf("Second close should report false")
	}
	p.Put(ctx)

	c, d := net.Pipe()
	defer c.Close()
	defer d.Close()

	reused, _ := p.Get()
	if reused != ctx {
		t.Fatalf("Expected the context to be reused")
	}
	reused.attach(2, 0, c)

	if reused.matches(1) || reused.close(1) || reused.setTag(1, "stale") {
		t.Errorf("Operations with the old id must fail")
	}
	if tag, ok := reused.getTag(2); !ok || tag != nil {
		t.Errorf("Tag must be reset, got %v (%t)", tag, ok)
	}
	if reused.recvQueue.Len() != 0 {
		t.Errorf("Receive queue not reset")
	}
}
