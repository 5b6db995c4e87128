package buffer

import "fmt"

// RingQueue is the per connection receive queue: append at the end, consume from the front.
// It wraps a DynamicBuffer with a hard maximum size.
type RingQueue struct {
	DynamicBuffer
	maxSize int
}

// NewRingQueue creates a queue with the given initial capacity and maximum size.
// A maxSize <= 0 means unbounded.
func NewRingQueue(initCapacity, maxSize int) *RingQueue {
	return &RingQueue{
		DynamicBuffer: *NewDynamicBuffer(initCapacity),
		maxSize:       maxSize,
	}
}

// MaxSize returns the hard limit of the queue (0 = unbounded)
func (q *RingQueue) MaxSize() int {
	return q.maxSize
}

// Write appends data. It fails with ErrCapacityExceeded without modifying the queue
// if the result would be larger than the maximum size.
func (q *RingQueue) Write(data []byte) error {
	if q.maxSize > 0 && q.dataLength+len(data) > q.maxSize {
		return fmt.Errorf("%w: %d + %d bytes > %d", ErrCapacityExceeded, q.dataLength, len(data), q.maxSize)
	}
	q.DynamicBuffer.Write(data)
	return nil
}
