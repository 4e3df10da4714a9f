package plugin

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dshills/scripthost/internal/interop"
)

// Bind returns the host handle for the named extension.
func (c *Coordinator) Bind(owner string) Binder {
	return &binder{c: c, owner: owner}
}

type binder struct {
	c     *Coordinator
	owner string
}

func (b *binder) Owner() string {
	return b.owner
}

func (b *binder) check() error {
	if !b.c.isActive(b.owner) {
		return fmt.Errorf("extension %q: %w", b.owner, ErrNotActive)
	}
	return nil
}

func (b *binder) record(reg interop.Registration, err error) (interop.Registration, error) {
	if err != nil {
		return interop.Registration{}, err
	}
	b.c.registry.Record(b.owner, reg)
	return reg, nil
}

func (b *binder) Command(name string, fn interop.CommandFunc) (interop.Registration, error) {
	if err := b.check(); err != nil {
		return interop.Registration{}, err
	}
	return b.record(b.c.hub.Commands.Register(b.owner, name, fn))
}

func (b *binder) Listen(topic string, fn interop.ListenerFunc) (interop.Registration, error) {
	if err := b.check(); err != nil {
		return interop.Registration{}, err
	}
	return b.record(b.c.hub.Listeners.Register(b.owner, topic, fn))
}

func (b *binder) On(topic string, fn interop.EasyFunc) (interop.Registration, error) {
	if err := b.check(); err != nil {
		return interop.Registration{}, err
	}
	return b.record(b.c.hub.EasyListeners.Register(b.owner, topic, fn))
}

func (b *binder) Placeholder(identifier string, fn interop.PlaceholderFunc) (interop.Registration, error) {
	if err := b.check(); err != nil {
		return interop.Registration{}, err
	}
	return b.record(b.c.hub.Placeholders.Register(b.owner, identifier, fn))
}

func (b *binder) Emit(ctx context.Context, ev interop.Event) error {
	return b.c.hub.Listeners.Emit(ctx, ev)
}

func (b *binder) SetContext(key, value string) error {
	if err := b.check(); err != nil {
		return err
	}
	b.c.registry.SetContext(b.owner, key, value)
	return nil
}

func (b *binder) Context(owner, key string) (string, bool) {
	return b.c.registry.Context(owner, key)
}

func (b *binder) Logger() *log.Logger {
	return b.c.logger.With("extension", b.owner)
}
