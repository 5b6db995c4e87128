package buffer

import (
	"bytes"
	"errors"
	"testing"
)

// TestWriteAndRemove tests appending and compacting
func TestWriteAndRemove(t *testing.T) {
	b := NewDynamicBuffer(8)

	b.Write([]byte("hello"))
	b.Write([]byte(" world"))

	if b.Len() != 11 {
		t.Fatalf("Expected length 11, got %d", b.Len())
	}
	if !bytes.Equal(b.Bytes(), []byte("hello world")) {
		t.Fatalf("Unexpected content %q", b.Bytes())
	}

	b.Remove(6)
	if !bytes.Equal(b.Bytes(), []byte("world")) {
		t.Fatalf("Expected remaining data to be shifted to the front, got %q", b.Bytes())
	}

	b.Remove(100)
	if b.Len() != 0 {
		t.Fatalf("Expected empty buffer after over-remove, got %d bytes", b.Len())
	}

	// remove of zero or negative is a no-op
	b.Write([]byte("x"))
	b.Remove(0)
	b.Remove(-3)
	if b.Len() != 1 {
		t.Fatalf("Expected length 1, got %d", b.Len())
	}
}

// TestGrowthDoubles verifies the capacity doubles until the data fits
func TestGrowthDoubles(t *testing.T) {
	b := NewDynamicBuffer(4)

	b.Write(make([]byte, 5))
	if b.Cap() != 8 {
		t.Errorf("Expected capacity 8, got %d", b.Cap())
	}

	b.Write(make([]byte, 20))
	if b.Cap() != 32 {
		t.Errorf("Expected capacity 32, got %d", b.Cap())
	}

	if b.Len() > b.Cap() {
		t.Errorf("Length %d exceeds capacity %d", b.Len(), b.Cap())
	}
}

// TestDefaultCapacity checks that a non positive size selects the default
func TestDefaultCapacity(t *testing.T) {
	b := NewDynamicBuffer(0)
	if b.Cap() != DefaultInitialCapacity {
		t.Errorf("Expected default capacity %d, got %d", DefaultInitialCapacity, b.Cap())
	}
}

// TestShrinkAfterBurst verifies that a one time burst does not keep a large buffer alive
func TestShrinkAfterBurst(t *testing.T) {
	b := NewDynamicBuffer(16)
	b.SetShrinkInterval(10)

	// burst of 1 KB
	b.Write(make([]byte, 1024))
	b.Reset()
	if b.Cap() < 1024 {
		t.Fatalf("Expected buffer to grow to at least 1024, got %d", b.Cap())
	}

	// small steady traffic, enough operations to run two shrink checks
	for i := 0; i < 20; i++ {
		b.Write([]byte{1, 2})
		b.Remove(2)
	}

	if b.Cap() >= 1024 {
		t.Errorf("Expected buffer to shrink after the burst, capacity is still %d", b.Cap())
	}
	if b.Cap() < b.InitialCapacity() {
		t.Errorf("Buffer shrunk below initial capacity: %d < %d", b.Cap(), b.InitialCapacity())
	}
}

// TestNoShrinkBelowFourTimesInitial checks the lower bound of the shrink policy
func TestNoShrinkBelowFourTimesInitial(t *testing.T) {
	b := NewDynamicBuffer(16)
	b.SetShrinkInterval(4)

	b.Write(make([]byte, 40)) // grows to 64 = 4 * 16
	b.Reset()
	for i := 0; i < 8; i++ {
		b.Write([]byte{1})
		b.Remove(1)
	}

	if b.Cap() != 64 {
		t.Errorf("Expected capacity to stay at 64, got %d", b.Cap())
	}
}

// TestShrinkKeepsData ensures shrinking never drops valid bytes
func TestShrinkKeepsData(t *testing.T) {
	b := NewDynamicBuffer(8)
	b.SetShrinkInterval(3)

	b.Write(make([]byte, 4096))
	b.Reset()
	b.Write([]byte("keep"))
	b.Write([]byte("me"))

	if !bytes.Equal(b.Bytes(), []byte("keepme")) {
		t.Errorf("Expected data to survive shrink, got %q", b.Bytes())
	}
}

// TestRelease verifies that a released buffer is back at its initial size
func TestRelease(t *testing.T) {
	b := NewDynamicBuffer(8)
	b.Write(make([]byte, 100))
	b.Release()

	if b.Len() != 0 || b.Cap() != 8 {
		t.Errorf("Expected len 0 / cap 8 after release, got %d / %d", b.Len(), b.Cap())
	}
}

// TestRingQueueMaxSize tests the hard limit of the receive queue
func TestRingQueueMaxSize(t *testing.T) {
	q := NewRingQueue(4, 10)

	if err := q.Write(make([]byte, 8)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	err := q.Write(make([]byte, 3))
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("Expected ErrCapacityExceeded, got %v", err)
	}
	if q.Len() != 8 {
		t.Errorf("Failed write must not modify the queue, length is %d", q.Len())
	}

	q.Remove(5)
	if err := q.Write(make([]byte, 7)); err != nil {
		t.Errorf("Expected write to succeed after remove: %v", err)
	}
}

// TestRingQueueUnbounded checks that a zero maximum disables the limit
func TestRingQueueUnbounded(t *testing.T) {
	q := NewRingQueue(4, 0)
	if err := q.Write(make([]byte, 1<<16)); err != nil {
		t.Errorf("Unexpected error for unbounded queue: %v", err)
	}
}
