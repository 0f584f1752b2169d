package stream

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](ch <-chan T) []T {
	var out []T
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestRingChannel(t *testing.T) {
	t.Run("keeps the newest values when full", func(t *testing.T) {
		rc := NewRingChannel[int](3)
		for i := range 10 {
			rc.Send(i)
		}

		assert.Equal(t, 3, rc.Len())
		assert.Equal(t, 3, rc.Cap())
		assert.Equal(t, []int{7, 8, 9}, drain(rc.C()))

		assert.Equal(t, int64(10), rc.Sent())
		assert.Equal(t, int64(7), rc.Evicted())
	})

	t.Run("reports evictions", func(t *testing.T) {
		rc := NewRingChannel[string](1)
		assert.False(t, rc.Send("a"))
		assert.True(t, rc.Send("b"))
	})

	t.Run("panics on non-positive capacity", func(t *testing.T) {
		assert.Panics(t, func() { NewRingChannel[int](0) })
	})
}

func TestBroadcaster(t *testing.T) {
	t.Run("every subscriber receives every value", func(t *testing.T) {
		b := NewBroadcaster[int]()
		s1 := b.Subscribe(8)
		s2 := b.Subscribe(8)

		b.Publish(1)
		b.Publish(2)

		assert.Equal(t, []int{1, 2}, drain(s1.C()))
		assert.Equal(t, []int{1, 2}, drain(s2.C()))
		assert.Equal(t, 2, b.Len())
	})

	t.Run("no replay for late subscribers", func(t *testing.T) {
		b := NewBroadcaster[int]()
		b.Publish(1)
		s := b.Subscribe(4)
		b.Publish(2)

		assert.Equal(t, []int{2}, drain(s.C()))
	})

	t.Run("close unsubscribes and closes the channel", func(t *testing.T) {
		b := NewBroadcaster[int]()
		s := b.Subscribe(4)
		s.Close()
		s.Close()

		b.Publish(1)
		_, ok := <-s.C()
		assert.False(t, ok, "channel MUST be closed")
		assert.Equal(t, 0, b.Len())
	})

	t.Run("slow subscriber drops oldest without blocking", func(t *testing.T) {
		b := NewBroadcaster[int]()
		s := b.Subscribe(2)
		for i := 0; i < 5; i++ {
			b.Publish(i)
		}
		assert.Equal(t, int64(3), s.Dropped())
		assert.Equal(t, []int{3, 4}, drain(s.C()))
	})

	t.Run("closing the broadcaster closes subscribers", func(t *testing.T) {
		b := NewBroadcaster[int]()
		s := b.Subscribe(1)
		b.Close()
		b.Close()
		s.Close()

		_, ok := <-s.C()
		assert.False(t, ok)

		late := b.Subscribe(1)
		_, ok = <-late.C()
		assert.False(t, ok, "subscription after close MUST be closed")
		b.Publish(1)
	})

	t.Run("concurrent publishers", func(t *testing.T) {
		b := NewBroadcaster[int]()
		s := b.Subscribe(1000)

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					b.Publish(i)
				}
			}()
		}
		wg.Wait()

		require.Len(t, drain(s.C()), 400)
	})
}
