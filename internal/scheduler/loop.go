package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrLoopClosed is returned when submitting to a closed loop.
var ErrLoopClosed = errors.New("primary loop is closed")

// ErrQueueFull is returned when an async submission finds the queue full.
var ErrQueueFull = errors.New("primary loop queue full")

// DefaultQueueSize is the queue capacity used when NewLoop is given zero.
const DefaultQueueSize = 100

type primaryKey struct{}

// call is a task queued on the loop.
type call struct {
	ctx    context.Context
	task   Task
	handle *Handle
}

// Loop serializes tasks onto a single goroutine: the host's primary context.
//
// Everything that mutates host subsystems (command, listener and placeholder
// registries) and every Lua state runs on the loop, so none of those need to be
// goroutine-safe on their own.
//
// Usage:
//
//	loop := NewLoop(0)
//	go loop.Run(ctx)
//	defer loop.Close()
//
//	h, err := loop.Submit(ctx, func(ctx context.Context) error { ... })
type Loop struct {
	queue   chan *call
	closed  atomic.Bool
	running atomic.Bool
	done    chan struct{}

	// overflow holds posted tasks that found the queue full.
	mu       sync.Mutex
	overflow []*call
	wake     chan struct{}

	closeOnce sync.Once
}

// NewLoop creates a loop with the given queue capacity.
func NewLoop(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Loop{
		queue: make(chan *call, queueSize),
		done:  make(chan struct{}),
		wake:  make(chan struct{}, 1),
	}
}

// Run processes queued tasks until ctx is cancelled or Close is called.
// The goroutine calling Run becomes the primary context. Once Run returns the
// loop is closed.
func (l *Loop) Run(ctx context.Context) {
	l.running.Store(true)
	defer l.running.Store(false)

	for {
		// Shutdown wins over queued work.
		select {
		case <-l.done:
			l.drain(ErrLoopClosed)
			return
		default:
		}

		select {
		case <-ctx.Done():
			l.Close()
			l.drain(ctx.Err())
			return
		case <-l.done:
			l.drain(ErrLoopClosed)
			return
		case c := <-l.queue:
			c.handle.finish(l.execute(c))
		case <-l.wake:
			l.runOverflow()
		}
	}
}

// runOverflow executes posted tasks that did not fit the queue, in order.
func (l *Loop) runOverflow() {
	for !l.closed.Load() {
		l.mu.Lock()
		if len(l.overflow) == 0 {
			l.mu.Unlock()
			return
		}
		c := l.overflow[0]
		l.overflow[0] = nil
		l.overflow = l.overflow[1:]
		l.mu.Unlock()

		c.handle.finish(l.execute(c))
	}
}

// execute runs one task with panic recovery and the primary marker set.
func (l *Loop) execute(c *call) error {
	return runRecovered(l.Mark(c.ctx), c.task)
}

// drain fails every queued and overflowed task with err.
func (l *Loop) drain(err error) {
	l.mu.Lock()
	pending := l.overflow
	l.overflow = nil
	l.mu.Unlock()
	for _, c := range pending {
		c.handle.finish(err)
	}

	for {
		select {
		case c := <-l.queue:
			c.handle.finish(err)
		default:
			return
		}
	}
}

// Submit queues task and returns a handle to await it.
// Blocks while the queue is full unless ctx is cancelled first.
func (l *Loop) Submit(ctx context.Context, task Task) (*Handle, error) {
	if l.closed.Load() {
		return nil, ErrLoopClosed
	}

	c := &call{ctx: ctx, task: task, handle: newHandle()}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrLoopClosed
	case l.queue <- c:
		return c.handle, nil
	}
}

// TrySubmit queues task without blocking. Returns ErrQueueFull when the queue
// has no room.
func (l *Loop) TrySubmit(ctx context.Context, task Task) (*Handle, error) {
	if l.closed.Load() {
		return nil, ErrLoopClosed
	}

	c := &call{ctx: ctx, task: task, handle: newHandle()}
	select {
	case <-l.done:
		return nil, ErrLoopClosed
	case l.queue <- c:
		return c.handle, nil
	default:
		return nil, ErrQueueFull
	}
}

// Post queues task without ever blocking. When the queue is full the task is
// kept in an unbounded overflow list that the loop works through after the
// queue, so tasks running on the loop may post any number of follow-ups.
func (l *Loop) Post(ctx context.Context, task Task) (*Handle, error) {
	c := &call{ctx: ctx, task: task, handle: newHandle()}

	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		return nil, ErrLoopClosed
	}
	if len(l.overflow) == 0 {
		select {
		case l.queue <- c:
			l.mu.Unlock()
			return c.handle, nil
		default:
		}
	}
	l.overflow = append(l.overflow, c)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return c.handle, nil
}

// Mark returns a context that identifies code running on this loop.
func (l *Loop) Mark(ctx context.Context) context.Context {
	return context.WithValue(ctx, primaryKey{}, l)
}

// Owns reports whether ctx was produced by this loop, i.e. the caller already
// runs on the primary context.
func (l *Loop) Owns(ctx context.Context) bool {
	owner, _ := ctx.Value(primaryKey{}).(*Loop)
	return owner == l
}

// Running reports whether a goroutine is currently inside Run.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Close stops the loop. Queued tasks fail with ErrLoopClosed.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed.Store(true)
		l.mu.Unlock()
		close(l.done)
	})
}

// IsClosed returns true if the loop has been closed.
func (l *Loop) IsClosed() bool {
	return l.closed.Load()
}

// runRecovered runs task, converting a panic into an error.
func runRecovered(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = fmt.Errorf("task panic: %w", v)
			default:
				err = fmt.Errorf("task panic: %v", v)
			}
		}
	}()
	return task(ctx)
}
