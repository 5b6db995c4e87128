package speed

import (
	"sync"
	"time"
)

const (
	// checkThreshold is the number of bytes counted before the rate is checked
	checkThreshold = 100 * 1024
	// windowLength is the time after which the counters are restarted
	windowLength = 3 * time.Second
	// throttleDelay is the stall applied when the rate is above the limit
	throttleDelay = 20 * time.Millisecond
)

// Controller throttles a single data path. It is safe for concurrent use.
type Controller struct {
	mu          sync.Mutex
	limit       int64 // bytes per second, <= 0 disables the controller
	lastTick    time.Time
	accumulated int64

	// replaceable for tests
	now   func() time.Time
	sleep func(time.Duration)
}

// NewController creates a controller with the given limit in bytes per second.
// A limit <= 0 creates a disabled controller.
func NewController(limit int64) *Controller {
	c := &Controller{
		now:   time.Now,
		sleep: time.Sleep,
	}
	c.SetLimit(limit)
	return c
}

// SetLimit changes the limit and restarts the window
func (c *Controller) SetLimit(limit int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = limit
	c.lastTick = c.now()
	c.accumulated = 0
}

// Limit returns the configured limit in bytes per second
func (c *Controller) Limit() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

// Enabled returns true if a limit is configured
func (c *Controller) Enabled() bool {
	return c.Limit() > 0
}

// Reset restarts the window without changing the limit
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTick = c.now()
	c.accumulated = 0
}

// TryLimit accounts n bytes and blocks the caller for a short moment if the observed
// rate is above the limit. It returns true if the caller was throttled.
func (c *Controller) TryLimit(n int) bool {
	c.mu.Lock()
	if c.limit <= 0 || n <= 0 {
		c.mu.Unlock()
		return false
	}

	now := c.now()
	elapsed := now.Sub(c.lastTick)
	if elapsed >= windowLength {
		c.lastTick = now
		c.accumulated = 0
		elapsed = 0
	}
	c.accumulated += int64(n)

	throttle := false
	if c.accumulated > checkThreshold {
		// with no measurable time passed every byte above the threshold is too fast
		throttle = elapsed <= 0 || float64(c.accumulated)/elapsed.Seconds() > float64(c.limit)
	}
	c.mu.Unlock()

	if throttle {
		c.sleep(throttleDelay)
	}
	return throttle
}
