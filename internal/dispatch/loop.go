// Package dispatch provides the single-writer execution context of the bridge.
//
// Every mutation of session state runs as a closure on one goroutine, in the order the
// closures were posted. SDK callbacks Post and return; caller-facing operations use Do
// to run their synchronous validation on the loop and wait for it.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/kbridge/internal/groutine"
)

// ErrStopped is returned by Do after the loop was stopped.
var ErrStopped = errors.New("dispatch loop stopped")

// Loop executes posted closures serially on a dedicated goroutine.
type Loop struct {
	logger *logrus.Logger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool

	gid     atomic.Uint64
	started atomic.Bool
	done    chan struct{}
}

// New creates a stopped loop; call Start to begin executing.
func New(logger *logrus.Logger) *Loop {
	if logger == nil {
		logger = logrus.New()
	}
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the loop goroutine. It runs until Stop is called or ctx is done.
func (l *Loop) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	ready := make(chan struct{})
	groutine.Go(ctx, "dispatch-loop", func(ctx context.Context) {
		l.gid.Store(groutine.GetGID())
		close(ready)
		l.run(ctx)
	})
	<-ready
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		stopped := l.stopped
		l.mu.Unlock()

		for _, fn := range batch {
			l.exec(fn)
		}
		if stopped {
			return
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			l.Stop()
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("Recovered panic in dispatch loop")
		}
	}()
	fn()
}

// Post enqueues fn and returns immediately. It never blocks, so it is safe to call from
// SDK callbacks and from closures already running on the loop. Returns false if the
// loop is stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to return. Called from the loop itself it
// runs fn inline.
//
// If ctx ends before fn started, fn is discarded and ctx.Err() is returned, so a
// cancelled caller never leaves state behind. Once fn started, Do waits for it and
// returns nil.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if l.OnLoop() {
		fn()
		return nil
	}

	var claimed atomic.Bool
	finished := make(chan struct{})
	if !l.Post(func() {
		if !claimed.CompareAndSwap(false, true) {
			return
		}
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		if claimed.CompareAndSwap(false, true) {
			return ErrStopped
		}
	case <-ctx.Done():
		if claimed.CompareAndSwap(false, true) {
			return ctx.Err()
		}
	}
	// fn is running on the loop
	<-finished
	return nil
}

// AfterFunc schedules fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		l.Post(fn)
	})
}

// OnLoop reports whether the caller runs on the loop goroutine.
func (l *Loop) OnLoop() bool {
	gid := l.gid.Load()
	return gid != 0 && gid == groutine.GetGID()
}

// Stop ends the loop after the already-queued closures ran. Idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the loop goroutine exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
