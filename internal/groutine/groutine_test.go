package groutine

import (
	"context"
	"runtime/pprof"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo(t *testing.T) {
	type result struct {
		name  string
		label string
		value any
	}
	done := make(chan result, 1)

	type key struct{}
	parent := context.WithValue(context.Background(), key{}, "parent-value")

	Go(parent, "service-discovery", func(ctx context.Context) {
		label, _ := pprof.Label(ctx, LabelKey)
		done <- result{name: Name(ctx), label: label, value: ctx.Value(key{})}
	})

	select {
	case r := <-done:
		assert.Equal(t, "service-discovery", r.name)
		assert.Equal(t, "service-discovery", r.label)
		assert.Equal(t, "parent-value", r.value, "parent values MUST be inherited")
	case <-time.After(time.Second):
		require.Fail(t, "goroutine did not run")
	}
}

func TestGoWithNilContext(t *testing.T) {
	done := make(chan string, 1)
	//nolint:staticcheck // nil context is accepted on purpose
	Go(nil, "nil-parent", func(ctx context.Context) {
		done <- Name(ctx)
	})

	select {
	case name := <-done:
		assert.Equal(t, "nil-parent", name)
	case <-time.After(time.Second):
		require.Fail(t, "goroutine did not run")
	}
}

func TestName(t *testing.T) {
	//nolint:staticcheck // nil context is accepted on purpose
	assert.Equal(t, "", Name(nil))
	assert.Equal(t, "", Name(context.Background()))
}

func TestGroup(t *testing.T) {
	// GOAL: Verify Stop cancels the shared context and waits for every goroutine
	//
	// TEST SCENARIO: Two goroutines block on ctx → Stop → both observed cancellation before Stop returns

	g := NewGroup(context.Background())
	var finished atomic.Int32
	started := make(chan string, 2)

	for _, name := range []string{"connect-a", "connect-b"} {
		g.Go(name, func(ctx context.Context) {
			started <- Name(ctx)
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			finished.Add(1)
		})
	}

	names := []string{<-started, <-started}
	assert.ElementsMatch(t, []string{"connect-a", "connect-b"}, names)
	require.NoError(t, g.Context().Err())

	g.Stop()

	assert.Equal(t, int32(2), finished.Load(), "Stop MUST wait for every goroutine")
	assert.ErrorIs(t, g.Context().Err(), context.Canceled)
}

func TestGroupParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	g := NewGroup(parent)

	done := make(chan struct{})
	g.Go("watcher", func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "parent cancellation MUST reach the group")
	}
	g.Stop()
}
