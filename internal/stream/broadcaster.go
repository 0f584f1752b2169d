// Package stream provides push-style event fan-out.
//
// A Broadcaster delivers every published value to every current subscriber.
// There is no replay: a subscriber only sees values published after it
// subscribed. Each subscriber owns a bounded RingChannel, so a slow consumer
// loses its oldest values instead of stalling the publisher.
package stream

import (
	"sync"
)

// DefaultBuffer is the per-subscriber capacity used when a non-positive size is requested.
const DefaultBuffer = 32

// Subscription is an explicit handle to a Broadcaster registration.
type Subscription[T any] struct {
	ring   *RingChannel[T]
	parent *Broadcaster[T]
	once   sync.Once
}

// C returns the channel delivering published values. It is closed by Close or
// when the broadcaster shuts down.
func (s *Subscription[T]) C() <-chan T {
	return s.ring.C()
}

// Dropped returns how many values were discarded because the buffer was full.
func (s *Subscription[T]) Dropped() int64 {
	return s.ring.Evicted()
}

// Close unregisters the subscription and closes its channel. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.parent.remove(s)
}

// Broadcaster fans values out to all registered subscribers.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewBroadcaster constructs a ready Broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a subscriber with the given buffer size.
// Subscribing to a closed broadcaster returns an already closed subscription.
func (b *Broadcaster[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription[T]{ring: NewRingChannel[T](buffer), parent: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(s.ring.Close)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers v to every current subscriber without blocking.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		s.ring.Send(v)
	}
}

// Len returns the current subscriber count.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription; later publishes are discarded.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.once.Do(s.ring.Close)
	}
	b.subs = nil
}

func (b *Broadcaster[T]) remove(s *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
	s.once.Do(s.ring.Close)
}
