// Package groutine starts goroutines under a pprof label carrying their name,
// so a collaborator call that never returns can be found in a goroutine profile.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
)

// LabelKey is the pprof label set on every goroutine started here.
const LabelKey = "goroutine"

type nameKey struct{}

// Go runs fn on a new goroutine labelled name. A nil ctx means context.Background().
//
//	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
//	    // ctx carries the label and the name
//	})
func Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go run(ctx, name, fn)
}

func run(ctx context.Context, name string, fn func(ctx context.Context)) {
	pprof.Do(ctx, pprof.Labels(LabelKey, name), func(ctx context.Context) {
		fn(context.WithValue(ctx, nameKey{}, name))
	})
}

// Name returns the name given to the goroutine that owns ctx, or "".
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(nameKey{}).(string)
	return name
}

// Group starts labelled goroutines sharing one context and waits for them.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGroup creates a Group whose goroutines get a context derived from parent.
func NewGroup(parent context.Context) *Group {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel}
}

// Go runs fn on a new labelled goroutine tracked by the group.
func (g *Group) Go(name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		run(g.ctx, name, fn)
	}()
}

// Context is the context handed to the group's goroutines.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Stop cancels the group's context and waits for every goroutine to return.
func (g *Group) Stop() {
	g.cancel()
	g.wg.Wait()
}
