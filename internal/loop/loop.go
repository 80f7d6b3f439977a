// Package loop provides the control loop: a single goroutine that runs posted
// tasks one at a time in FIFO order. All bridge, handler and settings work
// runs on it.
package loop

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Loop is a serial task queue.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool

	running atomic.Bool
}

// New returns an idle loop. Call Run to start processing.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post queues fn. It never blocks and reports false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run processes tasks until ctx is done or Close is called. Tasks still queued
// at that point are dropped.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	defer l.running.Store(false)
	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.run(fn)
			select {
			case <-l.done:
				return nil
			default:
			}
		}

		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

// Running reports whether Run is processing tasks.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Close stops the loop. It is safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.done)
}

// Done is closed once the loop has been closed.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("loop task panicked", "panic", r)
		}
	}()
	fn()
}
