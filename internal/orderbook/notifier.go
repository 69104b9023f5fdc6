package orderbook

import "sync"

// Notifier is a list of registered callbacks.
type Notifier[T any] struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(T)
}

// Subscribe registers fn and returns a function that unregisters it.
func (n *Notifier[T]) Subscribe(fn func(T)) (cancel func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.handlers == nil {
		n.handlers = make(map[int]func(T))
	}
	id := n.next
	n.next++
	n.handlers[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.handlers, id)
	}
}

func (n *Notifier[T]) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.handlers)
}

// Notify calls every handler with v. Handlers run outside the notifier's lock
// so they may subscribe or cancel.
func (n *Notifier[T]) Notify(v T) {
	n.mu.Lock()
	handlers := make([]func(T), 0, len(n.handlers))
	for _, fn := range n.handlers {
		handlers = append(handlers, fn)
	}
	n.mu.Unlock()

	for _, fn := range handlers {
		fn(v)
	}
}
