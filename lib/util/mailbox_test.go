package util

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

// TestMailboxBasic tests push and receive in order
func TestMailboxBasic(t *testing.T) {
	m := NewMailbox[int]()
	defer m.Close()

	for i := 0; i < 10; i++ {
		if !m.Push(i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case v := <-m.Recv():
			if v != i {
				t.Errorf("Expected %d, got %d", i, v)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case v := <-m.Recv():
		t.Errorf("Mailbox should be empty, but got %v", v)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestMailboxConcurrentProducers verifies that no message is lost or duplicated
func TestMailboxConcurrentProducers(t *testing.T) {
	m := NewMailbox[int]()
	defer m.Close()

	const producers = 10
	const perProducer = 1000
	total := producers * perProducer

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if !m.Push(id*perProducer + i) {
					t.Errorf("Producer %d failed to push item %d", id, i)
				}
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}

	seen := make(map[int]bool, total)
	lastOf := make(map[int]int, producers)
	for len(seen) < total {
		select {
		case v := <-m.Recv():
			if seen[v] {
				t.Fatalf("Duplicate item received: %d", v)
			}
			seen[v] = true

			// per producer order is preserved
			producer := v / perProducer
			if last, ok := lastOf[producer]; ok && v < last {
				t.Fatalf("Producer %d out of order: %d after %d", producer, v, last)
			}
			lastOf[producer] = v
		case <-time.After(2 * time.Second):
			t.Fatalf("Timeout waiting for items, received %d of %d", len(seen), total)
		}
	}
	wg.Wait()
}

// TestMailboxClose verifies closing behavior
func TestMailboxClose(t *testing.T) {
	m := NewMailbox[string]()
	m.Push("a")
	m.Push("b")
	m.Close()

	if m.Push("c") {
		t.Error("Should not be able to push after close")
	}
	if !m.IsClosed() {
		t.Error("Expected mailbox to be closed")
	}

	for _, want := range []string{"a", "b"} {
		select {
		case v := <-m.Recv():
			if v != want {
				t.Errorf("Expected %s, got %s", want, v)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for %s after close", want)
		}
	}

	if _, ok := <-m.Recv(); ok {
		t.Error("Channel should be closed but is still open")
	}
}

// TestMailboxDrain verifies that Drain returns everything not yet received
func TestMailboxDrain(t *testing.T) {
	m := NewMailbox[int]()
	for i := 0; i < 5; i++ {
		m.Push(i)
	}

	first := <-m.Recv()
	if first != 0 {
		t.Fatalf("Expected 0, got %d", first)
	}

	rest := m.Drain()
	if len(rest) != 4 {
		t.Fatalf("Expected 4 drained items, got %d", len(rest))
	}
	for i, v := range rest {
		if v != i+1 {
			t.Errorf("Expected %d at position %d, got %d", i+1, i, v)
		}
	}
	if m.Len() != 0 {
		t.Errorf("Expected empty mailbox after drain, got %d", m.Len())
	}
}

// TestMailboxSelect tests the mailbox in a select statement
func TestMailboxSelect(t *testing.T) {
	m := NewMailbox[string]()
	defer m.Close()

	other := make(chan int, 1)
	other <- 42

	select {
	case v := <-m.Recv():
		t.Errorf("Should not receive from empty mailbox, got %v", v)
	case <-other:
	}

	m.Push("test")
	select {
	case v := <-m.Recv():
		if v != "test" {
			t.Errorf("Expected 'test', got %v", v)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Timeout waiting for item from mailbox")
	}
}

func BenchmarkMailboxMultiProducer(b *testing.B) {
	m := NewMailbox[int]()
	defer m.Close()

	go func() {
		for range m.Recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Push(i)
			i++
		}
	})
}
