// Package bridge serializes all device-protocol work onto one dedicated
// dispatcher goroutine. The protocol layer is not safe to drive from
// concurrent control callers, so every call funnels through Submit; the
// dispatcher's single loop is the de facto lock for the whole session.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

// ErrClosed is returned when work is submitted after Shutdown.
var ErrClosed = errors.New("tobii: bridge closed")

// DefaultSubmitTimeout bounds Submit when the caller passes no timeout.
const DefaultSubmitTimeout = 30 * time.Second

type call struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Bridge owns the dispatcher goroutine and the lifecycle of background
// tasks spawned through it.
type Bridge struct {
	obs   ports.Observability
	calls chan call

	root   context.Context
	cancel context.CancelFunc

	loopDone  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	tasks     sync.WaitGroup
}

// New builds a stopped bridge; call Start before submitting work.
func New(obs ports.Observability) *Bridge {
	root, cancel := context.WithCancel(context.Background())
	return &Bridge{
		obs:      obs,
		calls:    make(chan call),
		root:     root,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
}

// Start launches the dispatcher. Init-once: repeated calls are no-ops.
func (b *Bridge) Start() {
	b.startOnce.Do(func() {
		go b.loop()
	})
}

func (b *Bridge) loop() {
	defer close(b.loopDone)
	for {
		select {
		case <-b.root.Done():
			return
		case c := <-b.calls:
			c.done <- b.dispatch(c)
		}
	}
}

func (b *Bridge) dispatch(c call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("protocol call panicked: %v", r)
			b.obs.LogCritical("bridge_call_panic", err)
		}
	}()
	return c.fn(c.ctx)
}

// Submit runs fn on the dispatcher and blocks the caller until it completes
// or the timeout elapses. The context handed to fn carries the deadline, so
// a timed-out unit aborts its device I/O rather than lingering. Exactly one
// submitted unit executes at a time, system-wide.
func (b *Bridge) Submit(timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = DefaultSubmitTimeout
	}
	ctx, cancel := context.WithTimeout(b.root, timeout)
	defer cancel()

	done := make(chan error, 1)
	select {
	case b.calls <- call{ctx: ctx, fn: fn, done: done}:
	case <-b.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("bridge submit: %w", ctx.Err())
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("bridge submit: %w", ctx.Err())
	}
}

// Task is a cancelable handle to a background unit of work.
type Task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel requests hard cancellation; the task's context is canceled
// immediately. Safe to call more than once.
func (t *Task) Cancel() { t.cancel() }

// Done is closed when the task has fully exited.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task exits or the timeout elapses.
func (t *Task) Wait(timeout time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Go schedules a long-running unit of work without blocking. The task's
// context is canceled by its handle or by bridge shutdown; a panic inside
// ends that task only, logged, leaving the rest of the system healthy.
func (b *Bridge) Go(name string, fn func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(b.root)
	t := &Task{name: name, cancel: cancel, done: make(chan struct{})}
	b.tasks.Add(1)
	go func() {
		defer b.tasks.Done()
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				b.obs.LogError("bridge_task_panic", fmt.Errorf("task %s: %v", name, r))
			}
		}()
		fn(ctx)
	}()
	return t
}

// Shutdown cancels everything and waits for the dispatcher and all tasks to
// exit, respecting the provided context. Teardown-on-exit: the bridge cannot
// be restarted afterwards.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.stopOnce.Do(func() {
		b.cancel()
		// A bridge that was never started has no loop to drain.
		b.startOnce.Do(func() { close(b.loopDone) })
	})

	finished := make(chan struct{})
	go func() {
		b.tasks.Wait()
		<-b.loopDone
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
