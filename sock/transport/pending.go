package transport

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
)

// PendingSends tracks a batch of sends running in the background.
// Sends of one batch run concurrently, there is no ordering between them.
type PendingSends struct {
	wg        sync.WaitGroup
	delivered atomic.Int64
	mu        sync.Mutex
	errs      *multierror.Error
}

// NewPendingSends creates an empty batch
func NewPendingSends() *PendingSends {
	return &PendingSends{}
}

// Go runs send for target in a new goroutine
func (p *PendingSends) Go(target uint64, send func() error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := send(); err != nil {
			p.mu.Lock()
			p.errs = multierror.Append(p.errs, fmt.Errorf("client %d: %w", target, err))
			p.mu.Unlock()
			return
		}
		p.delivered.Add(1)
	}()
}

// Wait blocks until all sends finished and returns the number of successful deliveries
func (p *PendingSends) Wait() int {
	p.wg.Wait()
	return int(p.delivered.Load())
}

// Err waits for all sends and returns the collected failures or nil
func (p *PendingSends) Err() error {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs.ErrorOrNil()
}
