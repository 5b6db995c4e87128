// Package speed implements an approximate per connection throughput governor.
//
// A Controller accumulates the bytes passed through a receive or send path. Once more than
// 100 KB were counted in the current window and the observed rate is above the configured
// limit, TryLimit sleeps for a short moment on the calling goroutine. This is a crude but
// effective form of backpressure: a throttled read loop stops pulling data from the socket,
// the kernel buffers fill up and TCP flow control slows the peer down.
//
// The window is restarted every 3 seconds so that long idle phases do not allow a burst
// far above the limit. The controller is not an exact rate limiter.
package speed
