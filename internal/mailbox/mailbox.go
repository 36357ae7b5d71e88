// Package mailbox provides an unbounded FIFO queue with a blocking receive.
package mailbox

import (
	"context"
	"sync"
)

// Mailbox is an unbounded FIFO. Put never blocks.
type Mailbox[T any] struct {
	items  []T
	signal chan struct{}
	mu     sync.Mutex
	closed bool
}

// New creates an empty mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{signal: make(chan struct{}, 1)}
}

// Put enqueues v. It reports false once the mailbox is closed.
func (m *Mailbox[T]) Put(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// Get dequeues the oldest item, waiting for one if needed. It returns false
// when ctx is done or the mailbox is closed and drained.
func (m *Mailbox[T]) Get(ctx context.Context) (T, bool) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v := m.items[0]
			var zero T
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()
			return v, true
		}
		closed := m.closed
		m.mu.Unlock()

		if closed {
			var zero T
			return zero, false
		}

		select {
		case <-m.signal:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close rejects further puts. Queued items can still be received.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}
