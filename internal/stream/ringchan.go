package stream

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded buffer read like a channel. Sending never blocks:
// when the buffer is full the oldest value is evicted to make room.
//
//	rc := stream.NewRingChannel[int](3)
//	for i := range 10 {
//	    rc.Send(i)
//	}
//	rc.Close()
//	for v := range rc.C() {
//	    fmt.Println(v) // 7, 8, 9
//	}
type RingChannel[T any] struct {
	mu      sync.Mutex
	ch      chan T
	sent    atomic.Int64
	evicted atomic.Int64
}

// NewRingChannel creates a RingChannel holding up to size values.
func NewRingChannel[T any](size int) *RingChannel[T] {
	if size <= 0 {
		panic("stream: ring size must be positive")
	}
	return &RingChannel[T]{ch: make(chan T, size)}
}

// C returns the receive side. It is closed by Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send buffers v and reports whether an older value was evicted for it.
// Sending after Close panics.
func (rc *RingChannel[T]) Send(v T) (evicted bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	for {
		select {
		case rc.ch <- v:
			rc.sent.Add(1)
			return evicted
		default:
		}
		// Full: the reader may race us for the oldest value, so retry instead of blocking.
		select {
		case <-rc.ch:
			rc.evicted.Add(1)
			evicted = true
		default:
		}
	}
}

// Len is the number of values waiting to be read.
func (rc *RingChannel[T]) Len() int { return len(rc.ch) }

// Cap is the ring size.
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close closes the receive side once buffered values are read.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	close(rc.ch)
}

// Sent is the number of values accepted by Send.
func (rc *RingChannel[T]) Sent() int64 { return rc.sent.Load() }

// Evicted is the number of values discarded to make room for newer ones.
func (rc *RingChannel[T]) Evicted() int64 { return rc.evicted.Load() }
