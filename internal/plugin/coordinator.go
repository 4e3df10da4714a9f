package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dshills/scripthost/internal/console"
	"github.com/dshills/scripthost/internal/interop"
	"github.com/dshills/scripthost/internal/scheduler"
)

// EventHandler handles coordinator events.
// Handlers must be non-blocking and should not call back into the Coordinator.
// Panics in handlers are recovered.
type EventHandler func(event Event)

// Event is a coordinator lifecycle event.
type Event struct {
	Type      EventType
	Extension string
	Error     error
}

// EventType is the type of coordinator event.
type EventType int

const (
	// EventLoaded is emitted when an extension finished onLoad.
	EventLoaded EventType = iota
	// EventFailed is emitted when an extension could not be loaded.
	EventFailed
	// EventUnloaded is emitted after a full unload.
	EventUnloaded
	// EventReloaded is emitted after a full reload.
	EventReloaded
)

// String returns a string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventLoaded:
		return "loaded"
	case EventFailed:
		return "failed"
	case EventUnloaded:
		return "unloaded"
	case EventReloaded:
		return "reloaded"
	default:
		return "unknown"
	}
}

// Report is the outcome of a register pass.
type Report struct {
	Units  []Unit
	Loaded []string
	Failed []*LoadError
}

// Err joins the per-extension failures.
func (r *Report) Err() error {
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Coordinator drives discovery, load, unload and reload of every extension
// and owns the order in which their host registrations are torn down.
type Coordinator struct {
	mu    sync.Mutex
	state State
	units []Unit

	// owners allowed to register into the host right now
	active map[string]bool

	eventHandlers []EventHandler

	discovery Discovery
	factory   Factory
	registry  *Registry
	hub       *interop.Hub
	sched     *scheduler.Scheduler
	reporter  console.Reporter
	logger    *log.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithReporter sets the console reporter.
func WithReporter(r console.Reporter) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.reporter = r
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithScheduler sets the scheduler Reload uses to reach the primary context.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.sched = s
		}
	}
}

// NewCoordinator creates a coordinator. A nil registry or hub gets a fresh one.
func NewCoordinator(discovery Discovery, factory Factory, registry *Registry, hub *interop.Hub, opts ...Option) *Coordinator {
	if registry == nil {
		registry = NewRegistry()
	}
	if hub == nil {
		hub = interop.NewHub(false)
	}
	c := &Coordinator{
		state:     StateUnloaded,
		active:    make(map[string]bool),
		discovery: discovery,
		factory:   factory,
		registry:  registry,
		hub:       hub,
		sched:     scheduler.New(nil),
		reporter:  console.Discard{},
		logger:    log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Units returns the units found by the last discovery.
func (c *Coordinator) Units() []Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Unit, len(c.units))
	copy(out, c.units)
	return out
}

// Registry returns the extension registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Hub returns the host interop subsystems.
func (c *Coordinator) Hub() *interop.Hub {
	return c.hub
}

// Register discovers every unit, creates an executor per source and runs its
// onLoad hook. Failures are isolated per extension: the failed extension's
// registrations are torn down, it is removed from the registry, and the next
// one is loaded. A folder that cannot be listed fails alone. Only a failure
// to read the extension document is returned as an error, in which case
// nothing is loaded.
func (c *Coordinator) Register(ctx context.Context) (*Report, error) {
	if err := c.transition(StateDiscovering, StateUnloaded); err != nil {
		return nil, err
	}
	return c.register(ctx)
}

func (c *Coordinator) register(ctx context.Context) (*Report, error) {
	units, err := c.discovery.Discover()
	if err != nil {
		c.setState(StateUnloaded)
		return nil, fmt.Errorf("discovering extensions: %w", err)
	}

	c.mu.Lock()
	c.units = units
	c.mu.Unlock()

	report := &Report{Units: units}
	for _, u := range units {
		if u.Err != nil {
			c.fail(u.Folder, nil, &LoadError{Extension: u.Folder, Phase: PhaseCreate, Err: u.Err}, report)
			continue
		}
		if len(u.Sources) == 0 {
			c.logger.Warn("extension has no sources", "folder", u.Folder)
			continue
		}
		for _, path := range u.Sources {
			c.load(ctx, u, path, report)
		}
	}

	c.setState(StateLoaded)
	c.logger.Debug("register finished", "loaded", len(report.Loaded), "failed", len(report.Failed))
	return report, nil
}

func (c *Coordinator) load(ctx context.Context, u Unit, path string, report *Report) {
	name := ExtensionName(u, path)
	c.setActive(name, true)

	if c.factory == nil {
		c.fail(name, nil, &LoadError{Extension: name, Phase: PhaseCreate, Err: ErrNoFactory}, report)
		return
	}

	exec, err := c.factory.New(ctx, Source{Unit: u, Path: path, Name: name}, c.Bind(name))
	if err != nil {
		c.fail(name, nil, &LoadError{Extension: name, Phase: PhaseCreate, Err: err}, report)
		return
	}
	c.registry.Add(exec)

	if err := invoke(ctx, exec, HookLoad); err != nil {
		c.fail(name, exec, &LoadError{Extension: name, Phase: PhaseLoad, Err: err}, report)
		return
	}

	report.Loaded = append(report.Loaded, name)
	c.reporter.Report(console.LevelInfo, "script-registered", "<script_name>", name)
	c.emitEvent(Event{Type: EventLoaded, Extension: name})
}

// fail rolls back a single extension.
func (c *Coordinator) fail(name string, exec Executor, lerr *LoadError, report *Report) {
	c.teardown([]string{name})
	c.setActive(name, false)

	if exec != nil {
		c.registry.Remove(name)
		if err := exec.Close(); err != nil {
			c.logger.Warn("closing failed extension", "extension", name, "err", err)
		}
	}
	c.registry.Clear(name)

	report.Failed = append(report.Failed, lerr)
	c.reporter.Report(console.LevelError, "script-register-error",
		"<script_name>", name,
		"<message>", lerr.Err.Error(),
	)
	c.emitEvent(Event{Type: EventFailed, Extension: name, Error: lerr})
}

// Unload runs every onUnload hook, tears registrations down in the fixed
// order, closes every executor and clears the registry. Unloading an already
// unloaded coordinator is a no-op.
func (c *Coordinator) Unload(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateUnloaded {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateLoaded {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot unload while %s", ErrInvalidState, state)
	}
	c.state = StateUnloading
	c.mu.Unlock()

	c.unload(ctx)
	return nil
}

func (c *Coordinator) unload(ctx context.Context) {
	c.setState(StateUnloading)

	executors := c.registry.Executors()
	for _, exec := range executors {
		if err := invoke(ctx, exec, HookUnload); err != nil {
			c.hookError(exec.Name(), HookUnload, err)
		}
	}

	owners := c.registry.Owners()
	c.teardown(owners)

	c.mu.Lock()
	c.active = make(map[string]bool)
	c.mu.Unlock()

	for _, exec := range executors {
		if err := exec.Close(); err != nil {
			c.logger.Warn("closing extension", "extension", exec.Name(), "err", err)
		}
	}
	c.registry.ClearAll()

	c.mu.Lock()
	c.units = nil
	c.state = StateUnloaded
	c.mu.Unlock()

	c.reporter.Report(console.LevelInfo, "scripts-unloaded", "<count>", strconv.Itoa(len(executors)))
	c.emitEvent(Event{Type: EventUnloaded})
}

// teardown removes the registrations of owners, one subsystem at a time, in
// TeardownPlan order. Failures are reported and never stop the teardown.
func (c *Coordinator) teardown(owners []string) {
	include := make(map[string]bool, len(owners))
	for _, o := range owners {
		include[o] = true
	}

	for _, kind := range interop.TeardownPlan(c.hub.PlaceholdersEnabled()) {
		for _, reg := range c.registry.Registrations(kind) {
			if !include[reg.Owner] {
				continue
			}
			if err := c.hub.Unregister(reg); err != nil {
				c.reporter.Report(console.LevelWarn, "script-teardown-error",
					"<kind>", kind.String(),
					"<registration>", reg.Name,
					"<script_name>", reg.Owner,
					"<message>", err.Error(),
				)
			}
		}
		for _, owner := range owners {
			if n := c.hub.Sweep(kind, owner); n > 0 {
				c.logger.Debug("swept unrecorded registrations", "kind", kind, "extension", owner, "count", n)
			}
		}
	}
}

// Reload runs onReload on every extension, then a full Unload and Register.
// It runs synchronously on the primary context and blocks until done.
func (c *Coordinator) Reload(ctx context.Context) (*Report, error) {
	if !c.sched.PrimaryRunning() {
		// Hosts without a running primary loop own the calling goroutine.
		return c.reload(ctx)
	}
	var report *Report
	err := c.sched.RunSync(ctx, scheduler.PlacementPrimary, func(ctx context.Context) error {
		var err error
		report, err = c.reload(ctx)
		return err
	})
	return report, err
}

func (c *Coordinator) reload(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	switch c.state {
	case StateLoaded, StateUnloaded:
	default:
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot reload while %s", ErrInvalidState, state)
	}
	wasLoaded := c.state == StateLoaded
	c.state = StateReloading
	c.mu.Unlock()

	if wasLoaded {
		for _, exec := range c.registry.Executors() {
			if err := invoke(ctx, exec, HookReload); err != nil {
				c.hookError(exec.Name(), HookReload, err)
			}
		}
		c.unload(ctx)
	}

	c.setState(StateDiscovering)
	report, err := c.register(ctx)
	if err != nil {
		return nil, err
	}

	c.reporter.Report(console.LevelInfo, "scripts-reloaded",
		"<loaded>", strconv.Itoa(len(report.Loaded)),
		"<failed>", strconv.Itoa(len(report.Failed)),
	)
	c.emitEvent(Event{Type: EventReloaded})
	return report, nil
}

func (c *Coordinator) hookError(name, hook string, err error) {
	c.reporter.Report(console.LevelError, "script-hook-error",
		"<script_name>", name,
		"<hook>", hook,
		"<message>", err.Error(),
	)
}

// Subscribe adds an event handler.
// Returns an unsubscribe function to remove the handler.
func (c *Coordinator) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}

	c.mu.Lock()
	c.eventHandlers = append(c.eventHandlers, handler)
	index := len(c.eventHandlers) - 1
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		// Set to nil instead of removing to avoid index shifting issues
		if index < len(c.eventHandlers) {
			c.eventHandlers[index] = nil
		}
	}
}

// emitEvent sends an event to all handlers outside the lock.
func (c *Coordinator) emitEvent(event Event) {
	c.mu.Lock()
	handlers := make([]EventHandler, len(c.eventHandlers))
	copy(handlers, c.eventHandlers)
	c.mu.Unlock()

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		func() {
			defer func() {
				_ = recover()
			}()
			handler(event)
		}()
	}
}

// transition moves to next if the current state is one of from.
func (c *Coordinator) transition(next State, from ...State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range from {
		if c.state == s {
			c.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: cannot enter %s while %s", ErrInvalidState, next, c.state)
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) setActive(name string, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if active {
		c.active[name] = true
		return
	}
	delete(c.active, name)
}

func (c *Coordinator) isActive(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[name]
}
