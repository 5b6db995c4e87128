package buffer

import "errors"

const (
	// DefaultInitialCapacity is the capacity used when a buffer is created with a size <= 0
	DefaultInitialCapacity = 8 * 1024
	// DefaultShrinkInterval is the number of operations between two shrink checks
	DefaultShrinkInterval = 500
)

// ErrCapacityExceeded is returned if a write would grow a bounded buffer beyond its maximum
var ErrCapacityExceeded = errors.New("buffer: capacity exceeded")

// usage collects the statistics the shrink policy is based on.
// It is reset after every shrink check.
type usage struct {
	ops  int
	sum  int64
	peak int
}

func (u *usage) sample(length int) {
	u.ops++
	u.sum += int64(length)
	if length > u.peak {
		u.peak = length
	}
}

func (u *usage) average() int {
	if u.ops == 0 {
		return 0
	}
	return int(u.sum / int64(u.ops))
}

// DynamicBuffer is a growable byte buffer. Valid data always starts at offset 0:
// writes append, Remove discards from the front and shifts the remainder down.
//
// Invariant: Len() <= Cap()
type DynamicBuffer struct {
	buf            []byte
	dataLength     int
	initCapacity   int
	shrinkInterval int
	stats          usage
}

// NewDynamicBuffer creates a new buffer with the given initial capacity.
// A capacity <= 0 selects DefaultInitialCapacity.
func NewDynamicBuffer(initCapacity int) *DynamicBuffer {
	if initCapacity <= 0 {
		initCapacity = DefaultInitialCapacity
	}
	return &DynamicBuffer{
		buf:            make([]byte, initCapacity),
		initCapacity:   initCapacity,
		shrinkInterval: DefaultShrinkInterval,
	}
}

// SetShrinkInterval changes how many operations pass between two shrink checks.
// Values <= 0 disable shrinking.
func (b *DynamicBuffer) SetShrinkInterval(ops int) {
	b.shrinkInterval = ops
	b.stats = usage{}
}

// Len returns the number of valid bytes
func (b *DynamicBuffer) Len() int {
	return b.dataLength
}

// Cap returns the size of the backing array
func (b *DynamicBuffer) Cap() int {
	return len(b.buf)
}

// InitialCapacity returns the capacity the buffer was created with.
// The shrink policy never goes below this value.
func (b *DynamicBuffer) InitialCapacity() int {
	return b.initCapacity
}

// Bytes returns the valid data. The slice aliases the internal storage
// and is only valid until the next mutating call.
func (b *DynamicBuffer) Bytes() []byte {
	return b.buf[:b.dataLength]
}

// Write appends data to the buffer, growing the storage if needed
func (b *DynamicBuffer) Write(data []byte) {
	b.ensure(b.dataLength + len(data))
	copy(b.buf[b.dataLength:], data)
	b.dataLength += len(data)
	b.afterOp()
}

// WriteByte appends a single byte. It never returns an error,
// the signature only exists to satisfy io.ByteWriter.
func (b *DynamicBuffer) WriteByte(c byte) error {
	b.ensure(b.dataLength + 1)
	b.buf[b.dataLength] = c
	b.dataLength++
	b.afterOp()
	return nil
}

// Remove discards the first n bytes and moves the remaining bytes to offset 0.
// Removing more than Len() bytes empties the buffer.
func (b *DynamicBuffer) Remove(n int) {
	if n <= 0 {
		return
	}
	if n >= b.dataLength {
		b.dataLength = 0
	} else {
		copy(b.buf, b.buf[n:b.dataLength])
		b.dataLength -= n
	}
	b.afterOp()
}

// Reset discards all data but keeps the storage
func (b *DynamicBuffer) Reset() {
	b.dataLength = 0
	b.afterOp()
}

// Release drops all data and returns the storage to its initial capacity.
// It is used when a pooled connection context is recycled.
func (b *DynamicBuffer) Release() {
	b.dataLength = 0
	b.stats = usage{}
	if len(b.buf) != b.initCapacity {
		b.buf = make([]byte, b.initCapacity)
	}
}

// ensure grows the storage by doubling until it can hold required bytes
func (b *DynamicBuffer) ensure(required int) {
	if required <= len(b.buf) {
		return
	}
	newCap := len(b.buf)
	if newCap == 0 {
		newCap = b.initCapacity
	}
	for newCap < required {
		newCap *= 2
	}
	grown := make([]byte, newCap)
	copy(grown, b.buf[:b.dataLength])
	b.buf = grown
}

// afterOp records usage and runs the shrink check every shrinkInterval operations
func (b *DynamicBuffer) afterOp() {
	if b.shrinkInterval <= 0 {
		return
	}
	b.stats.sample(b.dataLength)
	if b.stats.ops < b.shrinkInterval {
		return
	}
	b.shrink()
	b.stats = usage{}
}

// shrink reallocates the storage down to max(avg*4, peak*2) if the buffer is larger than
// that target and larger than four times its initial capacity
func (b *DynamicBuffer) shrink() {
	target := b.stats.average() * 4
	if p := b.stats.peak * 2; p > target {
		target = p
	}
	if target < b.initCapacity {
		target = b.initCapacity
	}
	if target < b.dataLength {
		target = b.dataLength
	}
	if len(b.buf) <= target || len(b.buf) <= 4*b.initCapacity {
		return
	}
	shrunk := make([]byte, target)
	copy(shrunk, b.buf[:b.dataLength])
	b.buf = shrunk
}
