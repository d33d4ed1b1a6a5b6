// Package buffer provides an unbounded FIFO queue that grows instead of
// blocking producers.
package buffer

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Pop once the queue is closed and drained.
var ErrClosed = errors.New("buffer closed")

// Growable is a thread-safe ring buffer that doubles its capacity when it
// reaches 70% full. Push never blocks. It is intended for a single consumer.
type Growable[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	ready chan struct{} // holds at most one wake-up
	done  chan struct{}

	// Stats
	totalPushed int64
	totalPopped int64
	resizeCount int
}

// New creates a queue with the given initial capacity.
func New[T any](initialCapacity int) *Growable[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Growable[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push appends an item, growing the ring if at 70% capacity.
// Returns false if the queue is closed.
func (b *Growable[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalPushed++

	b.signal()
	return true
}

// Pop removes the oldest item, waiting until one is available, the queue is
// closed and empty (ErrClosed), or ctx is done.
func (b *Growable[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		if item, ok := b.TryPop(); ok {
			return item, nil
		}

		b.mu.Lock()
		closed := b.closed && b.count == 0
		b.mu.Unlock()
		if closed {
			return zero, ErrClosed
		}

		select {
		case <-b.ready:
		case <-b.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// TryPop removes the oldest item without waiting.
func (b *Growable[T]) TryPop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.count == 0 {
		return zero, false
	}

	item := b.buf[b.head]
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.totalPopped++

	if b.count > 0 {
		b.signal()
	}
	return item, true
}

// Drain removes up to max items (all when max <= 0) in FIFO order.
func (b *Growable[T]) Drain(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	var zero T
	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = b.buf[b.head]
		b.buf[b.head] = zero
		b.head = (b.head + 1) % b.capacity
	}
	b.count -= n
	b.totalPopped += int64(n)

	if b.count > 0 {
		b.signal()
	}
	return result
}

// Ready is signalled after a Push. Consumers that batch select on it and
// then call Drain.
func (b *Growable[T]) Ready() <-chan struct{} {
	return b.ready
}

// Done is closed when the queue is closed.
func (b *Growable[T]) Done() <-chan struct{} {
	return b.done
}

// Close stops accepting items. Remaining items can still be popped.
func (b *Growable[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// Len returns the current number of items.
func (b *Growable[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns queue statistics.
func (b *Growable[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Count:       b.count,
		Capacity:    b.capacity,
		TotalPushed: b.totalPushed,
		TotalPopped: b.totalPopped,
		ResizeCount: b.resizeCount,
	}
}

// Stats contains queue statistics.
type Stats struct {
	Count       int
	Capacity    int
	TotalPushed int64
	TotalPopped int64
	ResizeCount int
}

func (b *Growable[T]) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// grow doubles the capacity. Must be called with lock held.
func (b *Growable[T]) grow() {
	newCapacity := b.capacity * 2
	newBuf := make([]T, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
	b.resizeCount++
}
