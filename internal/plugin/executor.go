package plugin

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dshills/scripthost/internal/interop"
)

// Lifecycle hook names.
const (
	HookLoad   = "onLoad"
	HookUnload = "onUnload"
	HookReload = "onReload"
)

// Executor is a loaded extension. The coordinator only names it, invokes its
// hooks and closes it.
type Executor interface {
	// Name returns the stable extension name.
	Name() string

	// Invoke runs the named hook. A missing hook is a no-op.
	Invoke(ctx context.Context, hook string) error

	// Valid reports whether the executor can still run hooks.
	Valid() bool

	// Close releases the executor. It is called exactly once.
	Close() error
}

// Source is what a Factory builds an executor from.
type Source struct {
	Unit Unit
	Path string
	Name string
}

// Factory creates executors.
type Factory interface {
	New(ctx context.Context, src Source, binder Binder) (Executor, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, src Source, binder Binder) (Executor, error)

// New implements Factory.
func (f FactoryFunc) New(ctx context.Context, src Source, binder Binder) (Executor, error) {
	return f(ctx, src, binder)
}

// Binder is an extension's handle into the host. Every registration made
// through it is recorded against the extension and removed by the
// coordinator when the extension unloads.
type Binder interface {
	// Owner returns the extension name.
	Owner() string

	Command(name string, fn interop.CommandFunc) (interop.Registration, error)
	Listen(topic string, fn interop.ListenerFunc) (interop.Registration, error)
	On(topic string, fn interop.EasyFunc) (interop.Registration, error)
	Placeholder(identifier string, fn interop.PlaceholderFunc) (interop.Registration, error)

	// Emit delivers an event to every listener of its topic.
	Emit(ctx context.Context, ev interop.Event) error

	// SetContext publishes a value other extensions can read.
	SetContext(key, value string) error
	// Context reads a value published by any extension.
	Context(owner, key string) (string, bool)

	Logger() *log.Logger
}

// invoke runs a hook, converting a panic into ErrHookPanic.
func invoke(ctx context.Context, exec Executor, hook string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %w: %v", hook, ErrHookPanic, r)
		}
	}()
	if !exec.Valid() {
		return fmt.Errorf("%s: executor %q is not valid", hook, exec.Name())
	}
	return exec.Invoke(ctx, hook)
}
