package util

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a unit of work executed by an OrderedScheduler
type Task func()

// PanicHandler is called with the recovered value if a task panics
type PanicHandler func(recovered any)

// taskNode represents a single queued task
type taskNode struct {
	task Task
	next atomic.Pointer[taskNode]
}

// OrderedScheduler runs tasks on a single worker goroutine.
//
// Ordering: tasks posted by the same goroutine run in the order they were posted. Tasks
// posted concurrently by different goroutines are serialized in the order their Post
// completed. No two tasks ever run at the same time.
//
// Implementation uses a linked list of nodes with atomic operations, so producers
// (the read loops of all connections of a shard) never block each other on a lock.
type OrderedScheduler struct {
	head    atomic.Pointer[taskNode]
	tail    atomic.Pointer[taskNode]
	closed  atomic.Bool
	pending atomic.Int64
	done    chan struct{}
	onPanic PanicHandler

	// condition variable for an idle worker
	mu   sync.Mutex
	cond *sync.Cond
}

// NewOrderedScheduler creates a scheduler and starts its worker goroutine.
// onPanic may be nil, a panicking task is then silently dropped.
func NewOrderedScheduler(onPanic PanicHandler) *OrderedScheduler {
	sentinel := &taskNode{}

	s := &OrderedScheduler{
		done:    make(chan struct{}),
		onPanic: onPanic,
	}
	s.cond = sync.NewCond(&s.mu)
	s.head.Store(sentinel)
	s.tail.Store(sentinel)

	go s.work()

	return s
}

// Post enqueues a task. It returns false if the task is nil or the scheduler is stopped.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *OrderedScheduler) Post(task Task) bool {
	if task == nil || s.closed.Load() {
		return false
	}

	n := &taskNode{task: task}
	s.pending.Add(1)

	var backoff uint8
	for {
		tail := s.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// may fail if another producer already moved the tail, which is fine
				s.tail.CompareAndSwap(tail, n)

				s.mu.Lock()
				s.cond.Signal()
				s.mu.Unlock()
				return true
			}
		} else {
			// help a producer that appended but did not move the tail yet
			s.tail.CompareAndSwap(tail, next)
		}

		// spin at low contention, yield at high contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// work runs queued tasks until the scheduler is stopped and the queue is drained
func (s *OrderedScheduler) work() {
	defer close(s.done)

	for {
		ran := false

		for {
			head := s.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			ran = true

			task := next.task
			s.head.Store(next)
			next.task = nil // help gc

			s.run(task)
			s.pending.Add(-1)
		}

		if !ran && s.closed.Load() {
			return
		}

		if !ran {
			s.mu.Lock()
			// double-check after acquiring the lock
			if s.head.Load().next.Load() == nil && !s.closed.Load() {
				s.cond.Wait()
			}
			s.mu.Unlock()
		}
	}
}

// run executes a single task and recovers from panics
func (s *OrderedScheduler) run(task Task) {
	defer func() {
		if r := recover(); r != nil && s.onPanic != nil {
			s.onPanic(r)
		}
	}()
	task()
}

// Stop prevents further posts and waits up to timeout for the queued tasks to finish.
// A timeout <= 0 waits forever. It returns false if the worker did not finish in time.
// Stop must not be called from within a task of the same scheduler.
func (s *OrderedScheduler) Stop(timeout time.Duration) bool {
	s.closed.Store(true)

	s.mu.Lock()
	s.cond.Signal()
	s.mu.Unlock()

	if timeout <= 0 {
		<-s.done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

// IsStopped returns true if Stop was called
func (s *OrderedScheduler) IsStopped() bool {
	return s.closed.Load()
}

// Pending returns the number of tasks posted but not yet finished
func (s *OrderedScheduler) Pending() int64 {
	return s.pending.Load()
}
