// Package dedup collapses concurrent identical logical calls into a single
// underlying execution. All callers attached to a key observe the same
// result or error; the entry is removed exactly once when the execution
// settles, so the next call with that key starts fresh.
package dedup

import (
	"context"
	"sync"
)

type call[T any] struct {
	done chan struct{} // closed when the execution settles
	val  T
	err  error
}

// Group coalesces in-flight calls by key.
type Group[T any] struct {
	mu    sync.Mutex
	calls map[string]*call[T]
}

// New creates an empty Group.
func New[T any]() *Group[T] {
	return &Group[T]{calls: make(map[string]*call[T])}
}

// Do runs op under key, or attaches to the in-flight execution for key if
// one exists. At most one execution per key is in flight at any instant.
// A waiter whose ctx ends before settlement gets ctx.Err(); the shared
// execution keeps running for the remaining callers.
func (g *Group[T]) Do(ctx context.Context, key string, op func(context.Context) (T, error)) (T, error) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		return wait(ctx, c)
	}
	c := &call[T]{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	c.val, c.err = op(ctx)
	close(c.done)

	g.mu.Lock()
	// Identity check: Reset may have detached this entry already.
	if g.calls[key] == c {
		delete(g.calls, key)
	}
	g.mu.Unlock()

	return c.val, c.err
}

func wait[T any](ctx context.Context, c *call[T]) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Pending returns the number of keys with an in-flight execution.
func (g *Group[T]) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// Reset detaches all current entries. In-flight executions still settle and
// notify their waiters, but new calls start fresh executions immediately.
func (g *Group[T]) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = make(map[string]*call[T])
}
