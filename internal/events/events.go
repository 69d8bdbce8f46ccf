// Package events provides a small typed publish/subscribe registry. Each
// event kind gets its own Feed with a fixed payload type; subscriptions are
// closed deterministically instead of relying on manual listener removal.
package events

import "sync"

// Feed delivers values of type T to its subscribers. The zero value is ready
// to use. Emit calls handlers synchronously, outside the feed's lock, in
// subscription order.
type Feed[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(T)
}

// Subscription represents one registered handler. Close is idempotent.
type Subscription struct {
	once  sync.Once
	close func()
}

// Close removes the handler from its feed. Safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(s.close)
}

// Subscribe registers fn and returns its subscription handle.
func (f *Feed[T]) Subscribe(fn func(T)) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]func(T))
	}
	id := f.next
	f.next++
	f.subs[id] = fn
	return &Subscription{close: func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}}
}

// Emit delivers v to every current subscriber. Handlers registered during
// delivery do not receive v.
func (f *Feed[T]) Emit(v T) {
	f.mu.Lock()
	handlers := make([]func(T), 0, len(f.subs))
	for id := 0; id < f.next; id++ {
		if fn, ok := f.subs[id]; ok {
			handlers = append(handlers, fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(v)
	}
}

// Len returns the number of active subscriptions.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
