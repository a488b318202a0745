// Package firsterr runs related goroutines with first-error-out semantics.
//
// A Group cancels its context on the first error and Wait returns that error
// without waiting for the rest. Done exposes the "every goroutine has
// returned" signal separately, for callers that must not release shared
// resources before the last goroutine is gone.
package firsterr

import (
	"context"
	"sync"
)

// Group coordinates a set of goroutines working on related tasks.
// Zero value is not usable - use WithContext to create instances.
//
// Panics propagate to the caller; they are not recovered.
type Group struct {
	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc

	wg      sync.WaitGroup
	errOnce sync.Once

	errCh chan error // signals first error

	doneOnce sync.Once
	done     chan struct{}
}

// WithContext creates a new Group and derived context.
// Canceling the returned context stops every goroutine in the group.
func WithContext(parent context.Context) (context.Context, *Group) {
	ctx, cancel := context.WithCancel(parent)
	g := &Group{
		ctx:    ctx,
		cancel: cancel,
		errCh:  make(chan error, 1), // buffer of 1 to avoid blocking on first error
		done:   make(chan struct{}),
	}

	return ctx, g
}

// Go executes f in a new goroutine as part of the group. f should watch
// ctx.Done() and return promptly once it is closed.
//
// All calls to Go must happen before the first call to Wait or Done.
func (g *Group) Go(f func(context.Context) error) {
	g.wg.Add(1)

	go (func() {
		defer g.wg.Done()
		if err := f(g.ctx); err != nil {
			g.errOnce.Do(func() {
				select {
				case g.errCh <- err:
				default:
				}
				g.cancel()
			})
		}
	})()
}

// Done returns a channel closed once every goroutine started with Go has
// returned, whether it failed or not.
func (g *Group) Done() <-chan struct{} {
	g.doneOnce.Do(func() {
		go (func() {
			g.wg.Wait()
			close(g.done)
		})()
	})

	return g.done
}

// Wait blocks until the first goroutine returns an error, or all goroutines
// complete successfully. After the first error the remaining goroutines are
// cancelled but not waited for; use Done for that.
func (g *Group) Wait() error {
	select {
	case err := <-g.errCh:
		return err
	case <-g.Done():
		select {
		case err := <-g.errCh:
			return err
		default:
			return nil
		}
	}
}

// Cancel terminates all operations in the group by canceling the context.
// Safe to call concurrently, repeatedly, and after Wait has returned.
func (g *Group) Cancel() {
	g.cancel()
}
