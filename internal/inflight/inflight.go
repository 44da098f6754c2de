// Package inflight collapses concurrent work for the same key into a single
// execution whose result every caller shares.
//
// Unlike golang.org/x/sync/singleflight, callers can ask whether work is
// pending and join it without supplying work of their own, and the work
// runs detached from any caller: a caller that stops waiting does not cancel
// it, so its result is still delivered to the others.
package inflight

import (
	"context"
	"fmt"
	"sync"
)

// PanicError is returned to every waiter when the work panicked.
type PanicError struct {
	Key   string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("inflight: work for %q panicked: %v", e.Key, e.Value)
}

type call[T any] struct {
	done chan struct{}
	val  T
	err  error

	// joined counts callers that attached to the work without starting it.
	// Guarded by Group.mu.
	joined int
}

// Handle is a pending (or settled) unit of work.
type Handle[T any] struct {
	c *call[T]
}

// Done is closed once the work has settled.
func (h *Handle[T]) Done() <-chan struct{} { return h.c.done }

// Wait blocks until the work settles or ctx is done. Giving up on ctx does
// not affect the work.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.c.done:
		return h.c.val, h.c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Group holds the registry of pending work. The zero value is ready to use.
type Group[T any] struct {
	mu    sync.Mutex
	calls map[string]*call[T]
}

// HasPending reports whether work is registered for key.
func (g *Group[T]) HasPending(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.calls[key]
	return ok
}

// Len returns the number of pending keys.
func (g *Group[T]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// Waiters returns how many callers joined pending work without starting
// it, summed over every pending key.
func (g *Group[T]) Waiters() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c.joined
	}
	return n
}

// Join waits for the work pending under key. ok is false, and nothing is
// awaited, when no work is registered.
func (g *Group[T]) Join(ctx context.Context, key string) (v T, ok bool, err error) {
	g.mu.Lock()
	c, found := g.calls[key]
	if found {
		c.joined++
	}
	g.mu.Unlock()
	if !found {
		return v, false, nil
	}
	v, err = (&Handle[T]{c: c}).Wait(ctx)
	return v, true, err
}

// Start registers work under key and runs it on a new goroutine. When work
// is already pending for key, the existing handle is returned, work is not
// invoked and started is false. The registration is removed when the work
// returns or panics.
func (g *Group[T]) Start(key string, work func() (T, error)) (h *Handle[T], started bool) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]*call[T])
	}
	if c, ok := g.calls[key]; ok {
		c.joined++
		g.mu.Unlock()
		return &Handle[T]{c: c}, false
	}
	c := &call[T]{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	go g.run(key, c, work)
	return &Handle[T]{c: c}, true
}

// Do joins the work pending under key or starts it, in one step, and waits
// for the result. shared is true when the caller joined existing work.
func (g *Group[T]) Do(ctx context.Context, key string, work func() (T, error)) (v T, shared bool, err error) {
	h, started := g.Start(key, work)
	v, err = h.Wait(ctx)
	return v, !started, err
}

func (g *Group[T]) run(key string, c *call[T], work func() (T, error)) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			c.val, c.err = zero, &PanicError{Key: key, Value: r}
		}
		g.mu.Lock()
		if g.calls[key] == c {
			delete(g.calls, key)
		}
		g.mu.Unlock()
		close(c.done)
	}()

	c.val, c.err = work()
}
