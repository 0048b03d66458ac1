package coordination

import "sync"

// ackWaiter correlates asynchronous acknowledgments with the initiations
// waiting for them, keyed by protocol ID.
type ackWaiter[T any] struct {
	mu      sync.Mutex
	pending map[string]chan T
}

func newAckWaiter[T any]() *ackWaiter[T] {
	return &ackWaiter[T]{pending: make(map[string]chan T)}
}

// expect registers interest in key and returns the channel the value will
// arrive on. A second expect for the same key replaces the first.
func (w *ackWaiter[T]) expect(key string) <-chan T {
	ch := make(chan T, 1)
	w.mu.Lock()
	w.pending[key] = ch
	w.mu.Unlock()
	return ch
}

// forget drops interest in key.
func (w *ackWaiter[T]) forget(key string) {
	w.mu.Lock()
	delete(w.pending, key)
	w.mu.Unlock()
}

// deliver hands a value to the waiter for key, if any. Returns false when
// nobody is waiting.
func (w *ackWaiter[T]) deliver(key string, v T) bool {
	w.mu.Lock()
	ch, ok := w.pending[key]
	if ok {
		delete(w.pending, key)
	}
	w.mu.Unlock()

	if !ok {
		return false
	}
	ch <- v
	return true
}
