// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

// Package future provides a single-assignment promise whose result can be observed by any number of waiters.
package future

import (
	"sync"

	"github.com/CeresDB/ceresshard/pkg/assert"
)

// Promise is the producer side. It must be resolved at most once, by either EmplaceValue or SetError.
type Promise[T any] struct {
	// mu protects the following fields.
	mu       sync.Mutex
	resolved bool
	value    T
	err      error

	// done is closed once the promise is resolved.
	done chan struct{}
}

// Future is the consumer side of a Promise. It is safe to share a Future between goroutines.
type Future[T any] struct {
	p *Promise[T]
}

func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{
		done: make(chan struct{}),
	}
}

// EmplaceValue resolves the promise with value and wakes up all waiters.
// Resolving an already resolved promise is a fatal error.
func (p *Promise[T]) EmplaceValue(value T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	assert.Assertf(!p.resolved, "promise is already resolved")
	p.value = value
	p.resolveLocked()
}

// SetError resolves the promise with a non-nil err and wakes up all waiters.
// Resolving an already resolved promise is a fatal error.
func (p *Promise[T]) SetError(err error) {
	assert.Assertf(err != nil, "promise can not be resolved with a nil error")

	p.mu.Lock()
	defer p.mu.Unlock()

	assert.Assertf(!p.resolved, "promise is already resolved")
	p.err = err
	p.resolveLocked()
}

func (p *Promise[T]) resolveLocked() {
	p.resolved = true
	close(p.done)
}

// Future returns a new Future observing this promise. It can be called any number of times, before or after the resolution.
func (p *Promise[T]) Future() *Future[T] {
	return &Future[T]{p: p}
}

// IsReady reports whether the promise has been resolved, either with a value or an error.
func (f *Future[T]) IsReady() bool {
	select {
	case <-f.p.done:
		return true
	default:
		return false
	}
}

// Done returns a channel which is closed once the promise is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.p.done
}

// Get blocks until the promise is resolved and returns its result.
func (f *Future[T]) Get() (T, error) {
	<-f.p.done
	// The fields are never written after done is closed.
	return f.p.value, f.p.err
}

// Poll returns the result without blocking. ok is false if the promise is not resolved yet.
func (f *Future[T]) Poll() (value T, err error, ok bool) {
	if !f.IsReady() {
		var zero T
		return zero, nil, false
	}
	value, err = f.Get()
	return value, err, true
}
