package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element of the mailbox linked list
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// Mailbox is an unbounded multi-producer single-consumer queue.
// Producers append to the tail with CAS, a dedicated goroutine moves items from
// the head into the channel returned by Recv.
//
// Ordering: items pushed by one goroutine are received in push order. Items of
// concurrent producers are ordered by whichever CAS wins.
type Mailbox[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan T
	consumer sync.WaitGroup
	closed   atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond
}

// NewMailbox creates an empty mailbox and starts its forwarding goroutine.
func NewMailbox[T any]() *Mailbox[T] {
	sentinel := &node[T]{}

	m := &Mailbox[T]{
		out: make(chan T),
	}
	m.cond = sync.NewCond(&m.mu)
	m.head.Store(sentinel)
	m.tail.Store(sentinel)

	m.consumer.Add(1)
	go m.forward()

	return m
}

// Push appends a message. It returns false if the mailbox is closed, in which
// case the message is dropped.
//
// Thread-safety: Push can be called concurrently from any goroutine.
func (m *Mailbox[T]) Push(value T) bool {
	if m.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8

	for {
		tailNode := m.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// another producer may already have advanced the tail, that's fine
				m.tail.CompareAndSwap(tailNode, newNode)
				m.mu.Lock()
				m.cond.Signal()
				m.mu.Unlock()
				return true
			}
		} else {
			// help a producer that linked its node but has not moved the tail yet
			m.tail.CompareAndSwap(tailNode, next)
		}

		// spin a little under contention, then yield
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// forward moves items from the linked list into the out channel.
// It exits (and closes out) once the mailbox is closed and empty.
func (m *Mailbox[T]) forward() {
	defer m.consumer.Done()
	defer close(m.out)

	var zero T
	for {
		hasItems := false
		for {
			head := m.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			m.head.Store(next)
			m.out <- value
			next.value = zero
		}

		if !hasItems && m.closed.Load() {
			return
		}

		if !hasItems {
			m.mu.Lock()
			head := m.head.Load()
			if head.next.Load() == nil && !m.closed.Load() {
				m.cond.Wait()
			}
			m.mu.Unlock()
		}
	}
}

// Recv returns the channel messages are delivered on. The channel is closed
// after Close once every pending message was received.
func (m *Mailbox[T]) Recv() <-chan T {
	return m.out
}

// Close rejects further pushes. Messages already queued are still delivered.
func (m *Mailbox[T]) Close() {
	m.closed.Store(true)
	m.mu.Lock()
	m.cond.Signal()
	m.mu.Unlock()
}

// Drain closes the mailbox and returns every message that was not received yet.
// It must only be called once the regular consumer stopped reading.
func (m *Mailbox[T]) Drain() []T {
	m.Close()
	var rest []T
	for v := range m.out {
		rest = append(rest, v)
	}
	return rest
}

// IsClosed returns true if the mailbox is closed.
func (m *Mailbox[T]) IsClosed() bool {
	return m.closed.Load()
}

// Len returns an approximate number of queued messages. O(n), debugging only.
func (m *Mailbox[T]) Len() int {
	count := 0
	current := m.head.Load()
	for {
		next := current.next.Load()
		if next == nil {
			break
		}
		count++
		current = next
	}
	return count
}
