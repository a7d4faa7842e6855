// Package queue bounds how many operations may execute at once. Waiting
// operations are admitted in priority order, FIFO within the same priority.
package queue

import (
	"container/heap"
	"context"
	"sync"
)

// Priority orders queued operations. The zero value is PriorityNormal.
type Priority int

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// DefaultCap is the admission cap used when none is configured.
const DefaultCap = 5

// Result is one outcome of a batch.
type Result[T any] struct {
	Value T
	Err   error
}

// Limiter admits operations under a fixed concurrency cap.
type Limiter[T any] struct {
	mu      sync.Mutex
	cap     int
	active  int
	seq     uint64 // arrival order, breaks ties within a priority tier
	waiting waitHeap
}

// New creates a Limiter with the given cap (DefaultCap if not positive).
func New[T any](capacity int) *Limiter[T] {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Limiter[T]{cap: capacity}
}

// Add runs op once the limiter has headroom. Cancellation while queued
// removes the entry and returns ctx.Err() without running op.
func (l *Limiter[T]) Add(ctx context.Context, priority Priority, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := l.acquire(ctx, priority); err != nil {
		return zero, err
	}
	defer l.release()
	return op(ctx)
}

// AddBatch admits every op and waits for all of them. It never
// short-circuits; each outcome is reported individually.
func (l *Limiter[T]) AddBatch(ctx context.Context, priority Priority, ops []func(context.Context) (T, error)) []Result[T] {
	results := make([]Result[T], len(ops))
	var wg sync.WaitGroup
	for i, op := range ops {
		wg.Add(1)
		go func(i int, op func(context.Context) (T, error)) {
			defer wg.Done()
			results[i].Value, results[i].Err = l.Add(ctx, priority, op)
		}(i, op)
	}
	wg.Wait()
	return results
}

// Depth returns the number of operations queued but not yet admitted.
func (l *Limiter[T]) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiting.Len()
}

// Active returns the number of operations currently executing.
func (l *Limiter[T]) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *Limiter[T]) acquire(ctx context.Context, priority Priority) error {
	l.mu.Lock()
	// Fast path only when nobody is already waiting, so a new arrival can
	// never jump ahead of queued work.
	if l.active < l.cap && l.waiting.Len() == 0 {
		l.active++
		l.mu.Unlock()
		return nil
	}
	w := &waiter{priority: priority, seq: l.seq, ready: make(chan struct{})}
	l.seq++
	heap.Push(&l.waiting, w)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-w.ready:
			// Admitted in the same instant the context ended; hand the
			// slot straight back.
			l.releaseLocked()
			l.mu.Unlock()
		default:
			heap.Remove(&l.waiting, w.index)
			l.mu.Unlock()
		}
		return ctx.Err()
	}
}

func (l *Limiter[T]) release() {
	l.mu.Lock()
	l.releaseLocked()
	l.mu.Unlock()
}

func (l *Limiter[T]) releaseLocked() {
	l.active--
	for l.active < l.cap && l.waiting.Len() > 0 {
		w := heap.Pop(&l.waiting).(*waiter)
		l.active++
		close(w.ready)
	}
}

type waiter struct {
	priority Priority
	seq      uint64
	ready    chan struct{} // closed when the waiter is admitted
	index    int
}

// waitHeap orders waiters by priority, then arrival.
type waitHeap []*waiter

func (h waitHeap) Len() int { return len(h) }

func (h waitHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h waitHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waitHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waitHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}
