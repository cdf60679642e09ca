package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the lossy listener capacity used when none is given.
const DefaultBuffer = 64

// Broadcaster fans out values from one source to N listeners.
//
// Lossy listeners have a bounded buffer and lose their oldest pending value
// when full, so a slow consumer never blocks the publisher. Lossless
// listeners queue without bound and see every value in order.
type Broadcaster[T any] struct {
	mu        sync.RWMutex
	listeners map[*Listener[T]]struct{}
	closed    bool
}

// Listener receives values from a broadcaster. C is closed after Close on
// the broadcaster (once every queued value has been delivered) or after
// Unsubscribe.
type Listener[T any] struct {
	C <-chan T

	ch       chan T
	done     chan struct{}
	doneOnce sync.Once
	endOnce  sync.Once
	lossless bool
	dropped  atomic.Uint64

	// lossless queue
	mu    sync.Mutex
	queue []T
	ended bool
	wake  chan struct{}
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{
		listeners: make(map[*Listener[T]]struct{}),
	}
}

// Subscribe registers a lossy listener holding up to buffer values.
func (b *Broadcaster[T]) Subscribe(buffer int) *Listener[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan T, buffer)
	l := &Listener[T]{C: ch, ch: ch, done: make(chan struct{})}
	b.add(l)
	return l
}

// SubscribeLossless registers a listener that never drops values.
func (b *Broadcaster[T]) SubscribeLossless() *Listener[T] {
	ch := make(chan T)
	l := &Listener[T]{
		C:        ch,
		ch:       ch,
		done:     make(chan struct{}),
		lossless: true,
		wake:     make(chan struct{}, 1),
	}
	go l.pump()
	b.add(l)
	return l
}

func (b *Broadcaster[T]) add(l *Listener[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		l.end()
		return
	}
	b.listeners[l] = struct{}{}
}

// Unsubscribe removes a listener and signals it to stop. Values still queued
// for it are discarded.
func (b *Broadcaster[T]) Unsubscribe(l *Listener[T]) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.doneOnce.Do(func() { close(l.done) })
	if !l.lossless {
		l.end()
	}
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster[T]) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish delivers v to every listener without blocking.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for l := range b.listeners {
		l.offer(v)
	}
}

// Close ends the broadcast. Lossy listeners are closed immediately;
// lossless listeners close once they have delivered their backlog. Later
// Publish calls are ignored.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for l := range b.listeners {
		l.end()
		delete(b.listeners, l)
	}
}

// Run reads values from source and fans out to all listeners until source
// is closed or ctx is cancelled.
func (b *Broadcaster[T]) Run(ctx context.Context, source <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-source:
			if !ok {
				return
			}
			b.Publish(v)
		}
	}
}

// Done is closed when the listener is unsubscribed.
func (l *Listener[T]) Done() <-chan struct{} { return l.done }

// Dropped counts values a lossy listener lost to overflow.
func (l *Listener[T]) Dropped() uint64 { return l.dropped.Load() }

// Pending returns the number of values waiting to be received.
func (l *Listener[T]) Pending() int {
	if !l.lossless {
		return len(l.ch)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// offer is called with the broadcaster read lock held.
func (l *Listener[T]) offer(v T) {
	if l.lossless {
		l.mu.Lock()
		l.queue = append(l.queue, v)
		l.mu.Unlock()
		l.notify()
		return
	}
	for {
		select {
		case l.ch <- v:
			return
		default:
		}
		// listener too slow, drop its oldest value to keep the broadcast moving
		select {
		case <-l.ch:
			l.dropped.Add(1)
		default:
		}
	}
}

// end stops further delivery. It runs with the broadcaster write lock held
// or on a listener that was never registered, so no offer races with it.
func (l *Listener[T]) end() {
	l.endOnce.Do(func() {
		if !l.lossless {
			close(l.ch)
			return
		}
		l.mu.Lock()
		l.ended = true
		l.mu.Unlock()
		l.notify()
	})
}

func (l *Listener[T]) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// pump moves queued values into C for a lossless listener.
func (l *Listener[T]) pump() {
	defer close(l.ch)
	var zero T
	for {
		l.mu.Lock()
		for len(l.queue) == 0 {
			if l.ended {
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
			select {
			case <-l.wake:
			case <-l.done:
				return
			}
			l.mu.Lock()
		}
		v := l.queue[0]
		l.queue[0] = zero
		l.queue = l.queue[1:]
		l.mu.Unlock()

		select {
		case l.ch <- v:
		case <-l.done:
			return
		}
	}
}
