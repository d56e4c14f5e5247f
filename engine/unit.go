// Package engine provides the shared building blocks of event-driven
// engines: lifecycle management and input validation errors.
package engine

import (
	"context"
	"sync"
)

// Unit handles the lifecycle management of an engine: tracking launched
// goroutines and graceful shutdown.
type Unit struct {
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewUnit returns a new unit.
func NewUnit() *Unit {
	ctx, cancel := context.WithCancel(context.Background())
	return &Unit{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Do synchronously executes the input function f unless the unit has shut
// down, in which case f is skipped and Do returns nil.
func (u *Unit) Do(f func() error) error {
	select {
	case <-u.ctx.Done():
		return nil
	default:
	}
	u.wg.Add(1)
	defer u.wg.Done()
	return f()
}

// Ready returns a channel that is closed once startup has completed, after
// running the given optional check functions.
func (u *Unit) Ready(checks ...func()) <-chan struct{} {
	ready := make(chan struct{})
	go func() {
		for _, check := range checks {
			check()
		}
		close(ready)
	}()
	return ready
}

// Done returns a channel that is closed once shutdown has completed. The
// given optional actions run after launched goroutines have drained.
func (u *Unit) Done(actions ...func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		u.cancel()
		u.wg.Wait()
		for _, action := range actions {
			action()
		}
		close(done)
	}()
	return done
}
