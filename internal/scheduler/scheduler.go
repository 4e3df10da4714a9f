// Package scheduler places work on the host's execution contexts.
//
// A request has two axes. Placement chooses where the task runs: inline on the
// caller's goroutine, on the primary loop, or on a fresh background goroutine.
// Mode chooses whether the caller blocks until the task finishes.
//
// Host subsystem mutation and reload use PlacementPrimary with ModeSync.
// Network fetches fan out through a Group, which is background/async with a
// barrier in Wait.
package scheduler

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Placement selects the execution context of a task.
type Placement int

const (
	// PlacementCurrent runs the task on the calling goroutine.
	PlacementCurrent Placement = iota
	// PlacementPrimary runs the task on the primary loop.
	PlacementPrimary
	// PlacementBackground runs the task on a new goroutine.
	PlacementBackground
)

// String returns the placement name.
func (p Placement) String() string {
	switch p {
	case PlacementCurrent:
		return "current"
	case PlacementPrimary:
		return "primary"
	case PlacementBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Mode selects whether the caller waits for the task.
type Mode int

const (
	// ModeSync blocks the caller until the task completes.
	ModeSync Mode = iota
	// ModeAsync returns immediately with a pending handle.
	ModeAsync
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	default:
		return "unknown"
	}
}

// Task is a unit of scheduled work.
type Task func(ctx context.Context) error

// ErrNoPrimary is returned when primary placement is requested without a loop.
var ErrNoPrimary = errors.New("scheduler has no primary loop")

// Handle tracks a scheduled task.
type Handle struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// completed returns a handle that has already finished with err.
func completed(err error) *Handle {
	h := newHandle()
	h.finish(err)
	return h
}

func (h *Handle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Done is closed when the task finishes.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task finishes or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task error once Done is closed, nil before.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Scheduler dispatches tasks by placement and mode.
type Scheduler struct {
	primary *Loop
}

// New creates a scheduler bound to the given primary loop. primary may be nil
// when the host has no primary context, in which case primary placement fails.
func New(primary *Loop) *Scheduler {
	return &Scheduler{primary: primary}
}

// Primary returns the primary loop.
func (s *Scheduler) Primary() *Loop {
	return s.primary
}

// PrimaryRunning reports whether a primary loop exists and is draining tasks.
// Callers holding the only goroutine of a host whose loop is not running own
// the primary context themselves.
func (s *Scheduler) PrimaryRunning() bool {
	return s.primary != nil && s.primary.Running()
}

// OnPrimary reports whether ctx belongs to a task running on the primary loop.
func (s *Scheduler) OnPrimary(ctx context.Context) bool {
	return s.primary != nil && s.primary.Owns(ctx)
}

// Run schedules task. In ModeSync the returned handle is already finished.
//
// PlacementCurrent always runs inline; mode only matters for the other two.
// A sync request for the primary loop made from the primary loop runs inline,
// since queueing it would deadlock. An async request for the primary loop never
// blocks, even when the queue is full.
func (s *Scheduler) Run(ctx context.Context, placement Placement, mode Mode, task Task) *Handle {
	switch placement {
	case PlacementPrimary:
		return s.runPrimary(ctx, mode, task)
	case PlacementBackground:
		h := newHandle()
		go func() {
			h.finish(runRecovered(ctx, task))
		}()
		if mode == ModeSync {
			_ = h.Wait(context.Background())
		}
		return h
	default:
		return completed(runRecovered(ctx, task))
	}
}

// RunSync is shorthand for Run followed by Wait.
func (s *Scheduler) RunSync(ctx context.Context, placement Placement, task Task) error {
	return s.Run(ctx, placement, ModeSync, task).Wait(ctx)
}

func (s *Scheduler) runPrimary(ctx context.Context, mode Mode, task Task) *Handle {
	if s.primary == nil {
		return completed(ErrNoPrimary)
	}
	if mode == ModeSync && s.primary.Owns(ctx) {
		return completed(runRecovered(ctx, task))
	}

	if mode == ModeAsync {
		h, err := s.primary.Post(ctx, task)
		if err != nil {
			return completed(err)
		}
		return h
	}

	h, err := s.primary.Submit(ctx, task)
	if err != nil {
		return completed(err)
	}
	if err := h.Wait(ctx); err != nil && h.Err() == nil {
		// ctx cancelled before the task finished; the task still runs.
		return completed(err)
	}
	return h
}

// Group is a background task group joined by Wait.
// Tasks never cancel each other: a failure or panic in one task is recorded
// and the rest keep running.
type Group struct {
	ctx  context.Context
	eg   errgroup.Group
	mu   sync.Mutex
	errs []error
}

// Group creates a task group. limit bounds concurrently running tasks;
// limit <= 0 means one goroutine per task.
func (s *Scheduler) Group(ctx context.Context, limit int) *Group {
	g := &Group{ctx: ctx}
	if limit > 0 {
		g.eg.SetLimit(limit)
	}
	return g
}

// Go starts task in the background. With a limit set, Go blocks until a slot
// is free.
func (g *Group) Go(task Task) {
	g.eg.Go(func() error {
		if err := runRecovered(g.ctx, task); err != nil {
			g.mu.Lock()
			g.errs = append(g.errs, err)
			g.mu.Unlock()
		}
		return nil
	})
}

// Wait blocks until every task has finished and returns their joined errors.
func (g *Group) Wait() error {
	_ = g.eg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Join(g.errs...)
}
