package run

import (
	"context"
	"sync"
)

// Mailbox is an unbounded, order-preserving queue feeding external input
// into a run. Put never blocks; Take and TakeMatch block until an item is
// available or ctx ends. Safe for concurrent use.
type Mailbox[T any] struct {
	mu    sync.Mutex
	items []T
	// wait is closed and replaced on every Put, waking all blocked takers.
	wait chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{wait: make(chan struct{})}
}

// Put appends an item.
func (m *Mailbox[T]) Put(item T) {
	m.mu.Lock()
	m.items = append(m.items, item)
	close(m.wait)
	m.wait = make(chan struct{})
	m.mu.Unlock()
}

// Take removes and returns the oldest item, blocking until one exists.
func (m *Mailbox[T]) Take(ctx context.Context) (T, error) {
	return m.TakeMatch(ctx, nil)
}

// TakeMatch removes and returns the oldest item accepted by match, blocking
// until one exists. Items that do not match are left in place for another
// consumer — runs sharing a mailbox only ever consume their own items. A nil
// match accepts everything.
func (m *Mailbox[T]) TakeMatch(ctx context.Context, match func(T) bool) (T, error) {
	var zero T
	for {
		m.mu.Lock()
		for i, item := range m.items {
			if match == nil || match(item) {
				m.items = append(m.items[:i], m.items[i+1:]...)
				m.mu.Unlock()
				return item, nil
			}
		}
		wait := m.wait
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len reports the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
