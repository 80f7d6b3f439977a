package event

import (
	"sync"
	"sync/atomic"
)

// Feed is a list of subscribers for values of type T. Subscribe returns a
// disposer that detaches the subscriber; disposers are safe to call twice.
type Feed[T any] struct {
	mu     sync.RWMutex
	subs   []subscriber[T]
	nextID atomic.Int64
}

type subscriber[T any] struct {
	id int64
	fn func(T)
}

// Subscribe registers fn and returns its disposer.
func (f *Feed[T]) Subscribe(fn func(T)) func() {
	id := f.nextID.Add(1)
	f.mu.Lock()
	f.subs = append(f.subs, subscriber[T]{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, s := range f.subs {
				if s.id == id {
					f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit calls every current subscriber in subscription order. Subscribers
// added or removed during Emit take effect on the next call.
func (f *Feed[T]) Emit(v T) {
	f.mu.RLock()
	subs := make([]subscriber[T], len(f.subs))
	copy(subs, f.subs)
	f.mu.RUnlock()
	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of subscribers.
func (f *Feed[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Clear drops every subscriber.
func (f *Feed[T]) Clear() {
	f.mu.Lock()
	f.subs = nil
	f.mu.Unlock()
}

// Disposers collects unsubscribe functions so they can be run together.
type Disposers struct {
	mu  sync.Mutex
	fns []func()
}

// Add records fn.
func (d *Disposers) Add(fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.fns = append(d.fns, fn)
	d.mu.Unlock()
}

// Dispose runs every recorded function in reverse order and forgets them.
func (d *Disposers) Dispose() {
	d.mu.Lock()
	fns := d.fns
	d.fns = nil
	d.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}
