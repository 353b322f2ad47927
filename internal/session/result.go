package session

import (
	"context"
	"sync"
)

// Result is the caller's handle on an accepted asynchronous operation. It is resolved
// exactly once, with a value or an error.
type Result[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newResult[T any]() *Result[T] {
	return &Result[T]{done: make(chan struct{})}
}

func (r *Result[T]) resolve(v T, err error) {
	r.once.Do(func() {
		r.value = v
		r.err = err
		close(r.done)
	})
}

// Done is closed once the result is available.
func (r *Result[T]) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the result is available or ctx is done.
func (r *Result[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
